package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"volumeview/internal/models"
	"volumeview/pkg/cache"
	"volumeview/pkg/config"
	"volumeview/pkg/cropping"
	"volumeview/pkg/invalidation"
	"volumeview/pkg/loader"
	"volumeview/pkg/logging"
	"volumeview/pkg/registry"
	"volumeview/pkg/render"
	"volumeview/pkg/visualization"
)

// dimensions of the volume written by -synthesize
var syntheticDims = [3]int{64, 64, 48}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volumeview.yaml", "Configuration file (.yaml or .toml)")
	input := flag.String("input", "", "HDF5 file holding the volume")
	dataset := flag.String("dataset", "volume", "Name of the volume dataset inside the HDF5 file")
	spacingFlag := flag.String("spacing", "", "Override voxel spacing in mm as sx,sy,sz")
	cropFlag := flag.String("crop", "", "Index-space crop box as imin,imax,jmin,jmax,kmin,kmax")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save slices along all axes")
	slicesDir := flag.String("slices-dir", "slices", "Directory to save extracted slices")
	synthesize := flag.Bool("synthesize", false, "Write a synthetic test volume to -input first")
	flag.Parse()

	// Validate inputs
	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Logging.SetLogger()
	defer logging.Shutdown()

	var spacing []float64
	if *spacingFlag != "" {
		if spacing, err = parseFloats(*spacingFlag, 3); err != nil {
			log.Fatalf("Invalid -spacing: %v", err)
		}
	}
	var crop *cropping.Bounds
	if *cropFlag != "" {
		values, err := parseFloats(*cropFlag, 6)
		if err != nil {
			log.Fatalf("Invalid -crop: %v", err)
		}
		crop = new(cropping.Bounds)
		copy(crop[:], values)
	}

	fmt.Println("================================")
	fmt.Println("VOLUMEVIEW: STREAMING VOLUME LOAD, INVALIDATION AND CROPPING")
	fmt.Println("================================")

	if *synthesize {
		if err := writeSynthetic(*input, *dataset); err != nil {
			log.Fatalf("Failed to write synthetic volume: %v", err)
		}
		fmt.Printf("Synthetic %v volume written to: %s\n", syntheticDims, *input)
	}

	src, err := loader.OpenHDF5(*input, *dataset)
	if err != nil {
		log.Fatalf("Failed to open volume: %v", err)
	}
	defer src.Close()

	h := src.Header()
	if spacing != nil {
		copy(h.Spacing[:], spacing)
	}
	volume, err := models.NewVolume(*dataset, h.Dimensions, h.Spacing, h.Origin, h.Direction, models.Float32Precision)
	if err != nil {
		log.Fatalf("Invalid volume geometry: %v", err)
	}

	// Session state: registry, cache, one engine with a scene of two viewports
	reg := registry.New()
	volumes := cache.New(cfg.Cache.MaxBytes, reg)
	if err := volumes.Put(volume); err != nil {
		log.Fatalf("Failed to cache volume: %v", err)
	}

	engine := render.NewEngine("", reg)
	defer engine.Destroy()
	scene, err := engine.AddDisplayGroup("scene")
	if err != nil {
		log.Fatalf("Failed to create display group: %v", err)
	}
	actor := render.NewVolumeActor("", volume)
	var viewports []*render.Viewport
	for _, id := range []string{"axial", "3d"} {
		vp, err := scene.AddViewport(id)
		if err != nil {
			log.Fatalf("Failed to create viewport: %v", err)
		}
		if err := vp.AddActor(actor); err != nil {
			log.Fatalf("Failed to bind volume: %v", err)
		}
		viewports = append(viewports, vp)
	}
	volumes.OnEvicted(render.Engines{engine}.RemoveVolume)
	controller := invalidation.New(reg, render.Engines{engine})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Stream the volume; every merged slab redraws the scene once
	fmt.Printf("Streaming %v volume with %d workers, %d slices per slab...\n",
		volume.Dimensions, cfg.Loading.Workers, cfg.Loading.SlabDepth)
	startTime := time.Now()
	l := loader.New(cfg.Loading.SlabDepth, cfg.Loading.Workers)
	if err := l.Load(ctx, volume, src, func(volumeID string) {
		if err := controller.OnVolumeUpdated(volumeID); err != nil {
			logging.Warningf("redraw after update of %s failed: %v", volumeID, err)
		}
	}); err != nil {
		log.Fatalf("Loading failed: %v", err)
	}
	fmt.Printf("\nLoaded %s in %.2f seconds\n", humanize.Bytes(uint64(volume.Footprint())), time.Since(startTime).Seconds())

	if crop != nil {
		if err := applyCrop(ctx, cfg, volume, *crop, actor); err != nil {
			log.Fatalf("Cropping failed: %v", err)
		}
		if err := controller.OnVolumeUpdated(volume.ID); err != nil {
			logging.Warningf("redraw after crop failed: %v", err)
		}
		fmt.Println("\nClipping planes (world space):")
		for i, p := range actor.ClippingPlanes() {
			fmt.Printf("  %d: normal (%.4f, %.4f, %.4f) through (%.3f, %.3f, %.3f)\n", i,
				p.Normal.X, p.Normal.Y, p.Normal.Z, p.Origin.X, p.Origin.Y, p.Origin.Z)
		}
	}

	stats := volume.Stats()
	fmt.Printf("\nVolume statistics:\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Dimensions: %v, spacing %v mm\n", volume.Dimensions, volume.Spacing)
	fmt.Printf("Range: [%.3f, %.3f]\n", stats.Min, stats.Max)
	fmt.Printf("Mean: %.3f, standard deviation: %.3f\n", stats.Mean, stats.StdDev)
	fmt.Printf("Scene redraws: %d\n", scene.Redraws())
	for _, vp := range viewports {
		fmt.Printf("- viewport %s: %d frames\n", vp.ID(), vp.Frames())
	}
	fmt.Printf("Cache: %d volumes, %s\n", volumes.Len(), humanize.Bytes(uint64(volumes.Bytes())))

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting slices along all axes...")
		viewer := visualization.NewViewer(volume)

		if crop != nil {
			region, size, err := viewer.ExtractRegion(*crop)
			if err != nil {
				log.Printf("Warning: Failed to extract cropped region: %v", err)
			} else {
				fmt.Printf("Cropped region: %v voxels (%d samples)\n", size, len(region))
			}
		}

		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}
}

// applyCrop publishes the box through a crop widget and installs the
// resulting planes on the actor
func applyCrop(ctx context.Context, cfg *config.Config, v *models.Volume, b cropping.Bounds, actor *render.VolumeActor) error {
	widget := cropping.NewWidget(v.Dimensions, 1)
	go func() {
		defer widget.Close()
		if err := widget.Set(b); err != nil {
			logging.Warningf("crop widget: %v", err)
		}
	}()

	t := cropping.Transform{Tolerance: cfg.Geometry.OrthonormalTolerance}
	return t.Follow(ctx, v, widget.Updates(), actor)
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// writeSynthetic stores an ellipsoid phantom with a soft edge
func writeSynthetic(path, name string) error {
	d := syntheticDims
	data := make([]float64, d[0]*d[1]*d[2])
	for k := 0; k < d[2]; k++ {
		for j := 0; j < d[1]; j++ {
			for i := 0; i < d[0]; i++ {
				x := 2*float64(i)/float64(d[0]-1) - 1
				y := 2*float64(j)/float64(d[1]-1) - 1
				z := 2*float64(k)/float64(d[2]-1) - 1
				r := math.Sqrt(x*x/0.64 + y*y/0.49 + z*z/0.81)
				data[(k*d[1]+j)*d[0]+i] = 1000 / (1 + math.Exp(12*(r-1)))
			}
		}
	}
	h := loader.Header{
		Dimensions: d,
		Spacing:    [3]float64{0.8, 0.8, 1.5},
		Direction:  models.IdentityDirection,
	}
	return loader.WriteHDF5(path, name, h, data)
}
