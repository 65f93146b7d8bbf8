package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/protocol"
)

// Development helper that impersonates the Asterisk ExternalMedia channel
// driver: it connects to the media server, announces a channel with
// MEDIA_START and streams audio frames the way chan_websocket does. Useful
// for exercising the VAD pipeline without a PBX.

const (
	frameMs       = 20
	toneFrequency = 440.0
	toneAmplitude = 8000
	speechBurstMs = 900
	silenceGapMs  = 1400
)

func main() {
	url := flag.String("url", "ws://localhost:8090/media", "Media server WebSocket URL")
	channel := flag.String("channel", fmt.Sprintf("test-channel-%d", time.Now().Unix()), "Channel ID to announce")
	audioPath := flag.String("audio", "", "Raw slin16 file to stream (tone bursts when empty)")
	rate := flag.Int("rate", 16000, "Sample rate in Hz")
	seconds := flag.Int("seconds", 10, "How long to stream generated tone bursts")
	flag.Parse()

	frameBytes := *rate * 2 * frameMs / 1000

	log.Printf("🔌 Connecting to media server: %s", *url)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("❌ Connection failed: %v", err)
	}
	defer conn.Close()

	start := protocol.FormatMediaStart(&protocol.MediaStart{
		ConnectionID:     fmt.Sprintf("test-conn-%d", time.Now().Unix()),
		ChannelID:        *channel,
		Format:           "slin16",
		OptimalFrameSize: frameBytes,
	})
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		log.Fatalf("❌ Failed to send MEDIA_START: %v", err)
	}
	log.Printf("📨 Sent: %s", start)

	done := make(chan struct{})
	var bytesReceived int

	// Print whatever the server sends back: control messages and the
	// assistant's audio
	go func() {
		defer close(done)
		lastReport := time.Now()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("👋 Connection closed: %v", err)
				return
			}
			switch msgType {
			case websocket.TextMessage:
				ctrl, err := protocol.ParseControl(string(data))
				if err != nil {
					log.Printf("⚠️  Unparseable control message: %q", data)
					continue
				}
				log.Printf("📡 Control received: %s", ctrl)
				if ctrl.Verb == protocol.VerbHangup {
					return
				}
			case websocket.BinaryMessage:
				bytesReceived += len(data)
				if time.Since(lastReport) >= time.Second {
					log.Printf("🔊 Assistant audio received: %d bytes total", bytesReceived)
					lastReport = time.Now()
				}
			}
		}
	}()

	var audio []byte
	if *audioPath != "" {
		audio, err = os.ReadFile(*audioPath)
		if err != nil {
			log.Fatalf("❌ Failed to read audio file: %v", err)
		}
		log.Printf("🎵 Streaming %s (%d bytes, %.1fs)", *audioPath, len(audio),
			float64(len(audio))/float64(*rate*2))
	} else {
		audio = generateToneBursts(*rate, *seconds)
		log.Printf("🎵 Streaming %ds of generated tone bursts (%dms on, %dms off)",
			*seconds, speechBurstMs, silenceGapMs)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(frameMs * time.Millisecond)
	defer ticker.Stop()

	sent := 0
stream:
	for offset := 0; offset < len(audio); offset += frameBytes {
		select {
		case <-ticker.C:
			end := offset + frameBytes
			if end > len(audio) {
				end = len(audio)
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audio[offset:end]); err != nil {
				log.Printf("❌ Write failed: %v", err)
				break stream
			}
			sent += end - offset
		case <-done:
			break stream
		case <-sigChan:
			log.Println("🛑 Interrupted")
			break stream
		}
	}

	log.Printf("✅ Streamed %d bytes, waiting for assistant response (Ctrl+C to stop)", sent)

	select {
	case <-done:
	case <-sigChan:
		log.Println("🛑 Interrupted")
	}

	log.Printf("📊 Total assistant audio received: %d bytes", bytesReceived)
}

// generateToneBursts produces alternating tone and silence so the voice
// activity detector sees speech-like onsets and offsets
func generateToneBursts(rate, seconds int) []byte {
	total := rate * seconds
	buf := make([]byte, 0, total*2)

	burstSamples := rate * speechBurstMs / 1000
	gapSamples := rate * silenceGapMs / 1000

	samples := 0
	for samples < total {
		for i := 0; i < burstSamples && samples < total; i++ {
			v := int16(toneAmplitude * math.Sin(2*math.Pi*toneFrequency*float64(i)/float64(rate)))
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
			samples++
		}
		for i := 0; i < gapSamples && samples < total; i++ {
			buf = binary.LittleEndian.AppendUint16(buf, 0)
			samples++
		}
	}

	return buf
}
