// Command streamdemo drives the full streaming pipeline end to end
// against a headless GPU backend: it opens a device, builds a tile
// atlas, an upload queue, a short-circuit bridge and a cell render
// cache, then simulates a camera sweeping over a synthetic grid of
// cells for a fixed number of frames, logging residency as it goes.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/atlas"
	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice/haladapter"
	"github.com/gogpu/terrastream/internal/rect"
	"github.com/gogpu/terrastream/pool"
	"github.com/gogpu/terrastream/terrain"
	"github.com/gogpu/terrastream/upload"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/noop"
)

// config holds the knobs cmd/streamdemo reads from flags/environment.
// Library packages never read configuration themselves; this struct is
// the only place process-level input is parsed, and it is turned into
// the Config/Options structs each package constructor expects.
type config struct {
	gridSize          int
	tileSize          uint32
	tilesPerLayer     int
	elementsPerLayerX int
	layers            int
	frameUploadLimit  int
	activeUploadLimit int
	workers           int
	screenEdge        float64
	cellSoftLimit     int
	frames            int
	logLevel          string
}

func parseConfig() config {
	flags := pflag.NewFlagSet("streamdemo", pflag.ExitOnError)
	flags.Int("grid-size", 4, "edge length of the synthetic cell grid (grid-size^2 cells)")
	flags.Uint32("tile-size", 64, "width/height in samples of one atlas tile")
	flags.Int("tiles-per-layer", 32, "tile slots per atlas array layer")
	flags.Int("elements-per-layer-x", 8, "tile columns per atlas layer")
	flags.Int("layers", 2, "coverage layers per cell, layer 0 is heights")
	flags.Int("frame-upload-limit", upload.DefaultFrameUploadLimit, "max transactions scheduled per frame")
	flags.Int("active-upload-limit", upload.DefaultActiveUploadLimit, "max in-flight node-layer uploads")
	flags.Int("workers", 4, "upload queue worker count")
	flags.Float64("screen-edge-threshold", 96, "pixel edge length above which a node splits")
	flags.Int("cell-soft-limit", 0, "resident cell soft cap, 0 for unbounded")
	flags.Int("frames", 60, "number of simulated frames to run")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("config", "", "optional config file (yaml/json/toml) overlaying these flags")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("streamdemo: bind flags: %v", err))
	}
	if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "streamdemo: reading %s: %v\n", cfgFile, err)
			os.Exit(2)
		}
	}
	v.SetEnvPrefix("STREAMDEMO")
	v.AutomaticEnv()

	return config{
		gridSize:          v.GetInt("grid-size"),
		tileSize:          uint32(v.GetInt("tile-size")),
		tilesPerLayer:     v.GetInt("tiles-per-layer"),
		elementsPerLayerX: v.GetInt("elements-per-layer-x"),
		layers:            v.GetInt("layers"),
		frameUploadLimit:  v.GetInt("frame-upload-limit"),
		activeUploadLimit: v.GetInt("active-upload-limit"),
		workers:           v.GetInt("workers"),
		screenEdge:        v.GetFloat64("screen-edge-threshold"),
		cellSoftLimit:     v.GetInt("cell-soft-limit"),
		frames:            v.GetInt("frames"),
		logLevel:          v.GetString("log-level"),
	}
}

func main() {
	cfg := parseConfig()
	terrastream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.logLevel)})))
	log := terrastream.Logger().With("component", "streamdemo")

	if err := run(cfg, log); err != nil {
		log.Error("streamdemo failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg config, log *slog.Logger) error {
	device, cleanup, err := openDevice()
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer cleanup()

	p := pool.New(device, 30*time.Second)
	defer p.Close()

	at, err := atlas.New(device, atlas.Config{
		Layers:            cfg.layers,
		TilesPerLayer:     cfg.tilesPerLayer,
		TileFormat:        gpucore.FormatR8Unorm,
		TileExtent:        gpucore.Dimensions{Width: cfg.tileSize, Height: cfg.tileSize},
		ElementsPerLayerX: cfg.elementsPerLayerX,
	})
	if err != nil {
		return fmt.Errorf("atlas.New: %w", err)
	}
	at.FinalizeCreation()

	queue := upload.NewQueue(device, p, upload.Config{
		Workers:           cfg.workers,
		FrameUploadLimit:  cfg.frameUploadLimit,
		ActiveUploadLimit: cfg.activeUploadLimit,
	})
	defer queue.Close()

	circuit := bridge.New()

	source, cells := newSyntheticGrid(cfg)
	for _, hash := range cells {
		desc, err := source.OpenCell(hash)
		if err != nil {
			return err
		}
		extent := rect.Rect{
			MinX: int(desc.Origin.X),
			MinY: int(desc.Origin.Y),
			MaxX: int(desc.Origin.X + desc.Size),
			MaxY: int(desc.Origin.Y + desc.Size),
		}
		if err := circuit.RegisterCell(hash, extent, nil); err != nil {
			return fmt.Errorf("register cell %d: %w", hash, err)
		}
	}

	cache, err := terrain.New(terrain.Config{
		Atlas:               at,
		Uploads:             queue,
		Bridge:              circuit,
		Layers:              cfg.layers,
		ScreenEdgeThreshold: cfg.screenEdge,
		CellSoftLimit:       cfg.cellSoftLimit,
		FrameUploadLimit:    cfg.frameUploadLimit,
		ActiveUploadLimit:   cfg.activeUploadLimit,
	})
	if err != nil {
		return fmt.Errorf("terrain.New: %w", err)
	}
	defer cache.Close()

	ctx := context.Background()
	span := float64(cfg.gridSize) * float64(cfg.tileSize)
	viewport := terrain.Viewport{Width: 1280, Height: 720}

	for frame := 0; frame < cfg.frames; frame++ {
		cam := sweepingCamera(frame, cfg.frames, span, viewport)

		if err := cache.Cull(cam, cells, source); err != nil {
			return fmt.Errorf("cull: %w", err)
		}
		started := cache.ScheduleUploads()
		queue.Tick()
		cache.CompletePendingUploads()
		cache.ApplyShortCircuit(ctx)

		stats := cache.Stats()
		drawn := 0
		cache.Render(func(terrain.DrawRecord) { drawn++ })

		log.Debug("frame advanced",
			"frame", frame,
			"started_uploads", started,
			"draw_records", drawn,
			"cells_resident", stats.Cells,
			"in_flight", stats.InFlightCount,
		)
	}

	final := cache.Stats()
	log.Info("streamdemo finished",
		"frames", cfg.frames,
		"cells_resident", final.Cells,
		"draw_records", final.DrawRecords,
	)
	return nil
}

// openDevice opens the noop HAL backend, a CPU-only implementation
// that never touches a real GPU, giving this demo a Device it can
// always open regardless of the host's graphics drivers.
func openDevice() (*haladapter.Adapter, func(), error) {
	backend, ok := hal.GetBackend(gputypes.BackendEmpty)
	if !ok {
		return nil, nil, fmt.Errorf("noop backend not registered")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, fmt.Errorf("no adapters exposed")
	}

	opened, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, fmt.Errorf("open adapter: %w", err)
	}

	adapter := haladapter.New(opened.Device, opened.Queue)
	cleanup := func() {
		instance.Destroy()
	}
	return adapter, cleanup, nil
}

// sweepingCamera orbits an orthographic-style camera over the grid's
// footprint so different frames cull and split different cells.
func sweepingCamera(frame, frames int, span float64, vp terrain.Viewport) terrain.Camera {
	t := float64(frame) / float64(max1(frames))
	angle := t * 2 * math.Pi
	center := span / 2
	radius := span * 0.6

	pos := terrain.Vec3{
		X: center + radius*math.Cos(angle),
		Y: center + radius*math.Sin(angle),
		Z: -span,
	}
	s := 2 / span

	viewProj := terrain.NewMat4([16]float64{
		s, 0, 0, -1 - center*s,
		0, s, 0, -1 - center*s,
		0, 0, s, -1,
		0, 0, 0, 1,
	})
	return terrain.Camera{Position: pos, ViewProj: viewProj, Viewport: vp}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// syntheticSource hands out CellDescriptors for an in-memory grid, each
// cell's layers backed by a zero-filled byte buffer with a flat offset
// table, so the pipeline has real (if blank) bytes to stream.
type syntheticSource struct {
	cells map[bridge.CellHash]terrain.CellDescriptor
}

func (s *syntheticSource) OpenCell(hash bridge.CellHash) (terrain.CellDescriptor, error) {
	desc, ok := s.cells[hash]
	if !ok {
		return terrain.CellDescriptor{}, fmt.Errorf("streamdemo: no such cell %d", hash)
	}
	return desc, nil
}

func newSyntheticGrid(cfg config) (*syntheticSource, []bridge.CellHash) {
	const fields = 3 // 3 quadtree levels per cell: 1, 4, 16 nodes

	cells := make(map[bridge.CellHash]terrain.CellDescriptor, cfg.gridSize*cfg.gridSize)
	order := make([]bridge.CellHash, 0, cfg.gridSize*cfg.gridSize)

	nodeCount := 0
	for f := 0; f < fields; f++ {
		dim := 1 << f
		nodeCount += dim * dim
	}

	for gy := 0; gy < cfg.gridSize; gy++ {
		for gx := 0; gx < cfg.gridSize; gx++ {
			hash := bridge.CellHash(gy*cfg.gridSize + gx + 1)

			layers := make([]terrain.LayerSource, cfg.layers)
			for l := range layers {
				layers[l] = backingLayer(nodeCount, cfg.tileSize)
			}

			cells[hash] = terrain.CellDescriptor{
				Hash: hash,
				Origin: terrain.Vec3{
					X: float64(gx) * float64(cfg.tileSize),
					Y: float64(gy) * float64(cfg.tileSize),
					Z: 0,
				},
				Size:   float64(cfg.tileSize),
				Fields: uint8(fields),
				Layers: layers,
			}
			order = append(order, hash)
		}
	}
	return &syntheticSource{cells: cells}, order
}

// backingLayer builds a LayerSource over a zero-filled in-memory file
// large enough to hold nodeCount fixed-size tiles, one offset per node
// in linear-id order.
func backingLayer(nodeCount int, tileWidth uint32) terrain.LayerSource {
	tileBytes := int64(tileWidth) * int64(tileWidth)
	data := make([]byte, int64(nodeCount)*tileBytes)
	offsets := make([]int64, nodeCount)
	for i := range offsets {
		offsets[i] = int64(i) * tileBytes
	}
	return terrain.LayerSource{
		File:      bytes.NewReader(data),
		Offsets:   offsets,
		TileBytes: tileBytes,
		TileWidth: tileWidth,
	}
}
