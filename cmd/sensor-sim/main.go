package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type weightPayload struct {
	DeviceID   string  `json:"device_id"`
	Weight     float64 `json:"weight"`
	Threshold  float64 `json:"threshold,omitempty"`
	WiFiRSSI   int     `json:"wifi_rssi"`
	WearStatus string  `json:"wear_status,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

type statusPayload struct {
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	deviceID := flag.String("device-id", "sim-scale-1", "Sensor device identifier")
	mode := flag.String("mode", "weight", "Sensor mode: weight or wearable")
	weightTopic := flag.String("weight-topic", "itemreminder/weight", "Topic for weight samples")
	statusTopic := flag.String("status-topic", "itemreminder/status", "Topic for device status samples")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published samples")
	startWeight := flag.Float64("weight", 500, "Starting weight in grams")
	threshold := flag.Float64("threshold", 100, "Low weight threshold in grams")
	drainRate := flag.Float64("drain", 2, "Grams consumed per sample, simulating usage")
	jitter := flag.Float64("jitter", 1.5, "Maximum random jitter applied to weight readings")
	offlineAfter := flag.Duration("offline-after", 0, "Publish an offline status and exit after this duration (0 disables)")

	flag.Parse()

	if *mode != "weight" && *mode != "wearable" {
		log.Fatalf("invalid mode %q, want weight or wearable", *mode)
	}

	rand.Seed(time.Now().UnixNano())

	clientID := fmt.Sprintf("%s-simulator-%d", *deviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	weight := *startWeight

	publishWeight := func() {
		payload := weightPayload{
			DeviceID:  *deviceID,
			Weight:    weight + randomJitter(*jitter),
			Threshold: *threshold,
			WiFiRSSI:  -40 - rand.Intn(30),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if payload.Weight < 0 {
			payload.Weight = 0
		}
		if *mode == "wearable" {
			if payload.Weight >= 5 {
				payload.WearStatus = "on"
			} else {
				payload.WearStatus = "off"
			}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		token := client.Publish(*weightTopic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s weight=%.1fg wear=%q", *weightTopic, payload.Weight, payload.WearStatus)

		if weight > 0 {
			weight -= *drainRate
			if weight < 0 {
				weight = 0
			}
		}
	}

	publishOffline := func() {
		payload := statusPayload{
			DeviceID:  *deviceID,
			Status:    "offline",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		data, _ := json.Marshal(payload)
		token := client.Publish(*statusTopic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s status=offline", *statusTopic)
	}

	var deadline <-chan time.Time
	if *offlineAfter > 0 {
		deadline = time.After(*offlineAfter)
	}

	publishWeight()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-deadline:
			publishOffline()
			client.Disconnect(250)
			return
		case <-ticker.C:
			publishWeight()
		}
	}
}

func randomJitter(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * max
}
