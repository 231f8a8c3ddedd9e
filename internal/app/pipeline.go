package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/render"
)

// runProducer is the capture loop. Each tick it:
//  1. reads a frame (SourceExhausted ends the loop cleanly)
//  2. seeds preset points once the frame size is known
//  3. offers a copy to the pending slot, unless the motion gate holds it back
//  4. draws the latest result over the frame and shows it
//  5. handles one key press
//
// It never waits on the inference worker.
func (a *App) runProducer(ctx context.Context) error {
	var pace *time.Ticker
	if a.opts.Camera == nil && !a.cfg.CaptureSource().IsDevice() && a.cfg.Source.FPS > 0 {
		// Files decode faster than real time; play them at the configured rate.
		pace = time.NewTicker(time.Second / time.Duration(a.cfg.Source.FPS))
		defer pace.Stop()
	}

	for !a.quit.Load() {
		if err := ctx.Err(); err != nil {
			glog.Infof("capture loop cancelled: %v", err)
			return nil
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace.C:
			}
		}

		mat, err := a.camera.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrSourceExhausted) {
				glog.Infof("source exhausted after %d frames", a.frames.Load())
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		a.seq++
		frame := capture.NewFrame(*mat, a.seq)
		a.frames.Add(1)
		a.frameSize.Store(frame.Size())
		a.seedPreset(frame)

		a.tick(frame)
		frame.Close()

		if a.opts.MaxFrames > 0 && a.frames.Load() >= uint64(a.opts.MaxFrames) {
			return nil
		}
		a.handleKey(a.display.Key())
	}
	return nil
}

// tick offers and displays one frame. It does not take ownership of frame.
func (a *App) tick(frame *capture.Frame) {
	res, haveResult := a.pipe.Peek()
	if haveResult {
		defer detector.ReleaseResult(res)
	}

	offer := true
	if a.gate != nil {
		var changed float64
		offer, changed = a.gate.Allow(frame.Mat, haveResult)
		if !offer {
			glog.V(2).Infof("frame %d held back, %.2f%% changed", frame.Seq, changed)
		}
	}
	if offer {
		a.pipe.Offer(frame.Clone())
	}

	hud := render.HUD{
		FPS:         a.fps.Tick(time.Now()),
		Engine:      a.engine.Name(),
		Paused:      a.worker.Paused(),
		Interactive: a.cfg.PointsRequired(),
	}
	out := a.renderer.Draw(frame.Mat, res, a.pipe.SnapshotPoints(), hud)
	a.display.Show(out)
	out.Close()
}

// seedPreset places the configured preset points on the first frame.
func (a *App) seedPreset(frame *capture.Frame) {
	if a.seeded {
		return
	}
	a.seeded = true

	preset, err := detector.LookupPreset(a.cfg.Prompt.Preset)
	if err != nil || preset == nil {
		return
	}
	pts := preset(frame.Size())
	a.pipe.SetPoints(pts)
	glog.Infof("prompt preset %s: %d points", a.cfg.Prompt.Preset, len(pts))
}
