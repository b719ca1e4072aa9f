// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/furrow/pkg/imuframe"
)

var (
	simListen  string
	simRate    int
	simYawRate float64
	simOut     string
	simFrames  int
)

var simulateLinkCmd = &cobra.Command{
	Use:   "simulate_link",
	Short: "Emit synthetic IMU frames for loopback testing",
	Long: `Generate valid IMU wire frames for a slowly turning robot.

By default the frames are streamed as binary WebSocket messages to every
client connected to --listen, so 'furrow serve --url ws://localhost:3002'
exercises the hardware bridge without a board attached.

With --out the frames are written to a capture file instead, suitable for
'furrow run --replay'.`,
	RunE: runSimulateLink,
}

func init() {
	rootCmd.AddCommand(simulateLinkCmd)
	simulateLinkCmd.Flags().StringVar(&simListen, "listen", ":3002", "Address to serve the WebSocket stream on")
	simulateLinkCmd.Flags().IntVar(&simRate, "rate", 50, "Frames per second")
	simulateLinkCmd.Flags().Float64Var(&simYawRate, "yaw-rate", 10, "Turn rate in degrees per second")
	simulateLinkCmd.Flags().StringVar(&simOut, "out", "", "Write frames to a capture file and exit")
	simulateLinkCmd.Flags().IntVar(&simFrames, "frames", 3000, "Number of frames to write with --out")
}

// syntheticFrame describes the robot t seconds into a constant-rate turn.
// The magnet bar sweeps one sensor per second.
func syntheticFrame(seq uint16, t, yawRate float64) *imuframe.Frame {
	yaw := math.Mod(yawRate*t, 360)
	if yaw > 180 {
		yaw -= 360
	}
	rad := yaw * math.Pi / 180

	return &imuframe.Frame{
		MagnetBar: 1 << (uint(t) % 32),
		Accel:     imuframe.Vector3{X: 0.01 * math.Sin(t), Y: 0.01 * math.Cos(t), Z: 1},
		Gyro:      imuframe.Vector3{Z: yawRate * math.Pi / 180},
		Mag:       imuframe.Vector3{X: 0.3 * math.Cos(rad), Y: -0.3 * math.Sin(rad), Z: 0.4},
		AHRS:      imuframe.Attitude{Yaw: yaw},
		Sequence:  seq,
	}
}

func runSimulateLink(cmd *cobra.Command, args []string) error {
	if simRate <= 0 {
		return fmt.Errorf("--rate must be positive, got %d", simRate)
	}
	if simOut != "" {
		return writeCapture(simOut, simFrames)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Printf("[%s] Client connected: %s\n", time.Now().Format("15:04:05.000"), r.RemoteAddr)
		n := streamFrames(ctx, conn)
		fmt.Printf("[%s] Client gone after %d frames: %s\n", time.Now().Format("15:04:05.000"), n, r.RemoteAddr)
	})

	server := &http.Server{Addr: simListen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Furrow - Simulated Link\n")
	fmt.Printf("Listening: ws://%s (%d frames/s, %.1f°/s)\n\n", simListen, simRate, simYawRate)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// streamFrames writes frames at the configured rate until the client drops
// or ctx ends. It returns the number of frames sent.
func streamFrames(ctx context.Context, conn *websocket.Conn) int {
	period := time.Second / time.Duration(simRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	var seq uint16
	sent := 0
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return sent
		case now := <-ticker.C:
			frame := syntheticFrame(seq, now.Sub(start).Seconds(), simYawRate)
			if err := conn.WriteMessage(websocket.BinaryMessage, imuframe.EncodeFrame(frame)); err != nil {
				return sent
			}
			seq++
			sent++
		}
	}
}

func writeCapture(path string, frames int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	dt := 1 / float64(simRate)
	for i := 0; i < frames; i++ {
		if _, err := f.Write(imuframe.EncodeFrame(syntheticFrame(uint16(i), float64(i)*dt, simYawRate))); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d frames (%d bytes) to %s\n", frames, frames*imuframe.FrameSize, path)
	return nil
}
