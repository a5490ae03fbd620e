// The tactile daemon merges per-sensor state events from UDP, Kafka, and
// serial transports into contact snapshots, publishes them at a fixed rate,
// and serves the monitoring HTTP interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/haptic-data/touch.report/internal/config"
	"github.com/haptic-data/touch.report/internal/db"
	"github.com/haptic-data/touch.report/internal/fsutil"
	"github.com/haptic-data/touch.report/internal/history"
	"github.com/haptic-data/touch.report/internal/ingest"
	"github.com/haptic-data/touch.report/internal/merge"
	"github.com/haptic-data/touch.report/internal/model"
	"github.com/haptic-data/touch.report/internal/monitor"
	"github.com/haptic-data/touch.report/internal/publish"
	"github.com/haptic-data/touch.report/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	udpAddr      = flag.String("udp-addr", ingest.DefaultUDPAddress, "UDP bind address for state events (empty disables UDP)")
	rcvBuf       = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	kafkaBrokers = flag.String("kafka-brokers", "", "comma-separated Kafka brokers (empty disables Kafka)")
	kafkaTopic   = flag.String("kafka-topic", ingest.DefaultStateTopic, "Kafka topic to consume state events from")
	kafkaGroup   = flag.String("kafka-group", ingest.DefaultGroupID, "Kafka consumer group")
	contactTopic = flag.String("contact-topic", publish.DefaultContactTopic, "Kafka topic to publish contact snapshots to")
	serialPath   = flag.String("serial", "", "serial device path, e.g. /dev/ttyACM0 (empty disables serial)")
	serialBaud   = flag.Int("baud", 115200, "serial baud rate")
	dbFile       = flag.String("db", "touch_data.db", "path to the SQLite database file")
	tuningPath   = flag.String("config", "", "tuning config JSON (empty uses built-in defaults)")
	modelPath    = flag.String("model", "", "sensor model descriptor JSON")
	capturesDir  = flag.String("captures-dir", "captures", "directory for JSONL capture files")
	record       = flag.Bool("record", false, "record incoming readings to a JSONL capture")
	recordLabel  = flag.String("record-label", "session", "label for the capture file name")
	runLabel     = flag.String("run-label", "", "label for the database run")
	dev          = flag.Bool("dev", false, "log contact transitions to stdout")
	logInterval  = flag.Int("log-interval", 60, "throughput logging interval in seconds")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	log.Printf("tactile %s starting", version.String())

	// Tuning configuration
	var tuning *config.TuningConfig
	if *tuningPath != "" {
		loaded, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
		log.Printf("Loaded tuning config from %s", *tuningPath)
	} else {
		// Empty config: every knob falls back to its built-in default.
		tuning = config.EmptyTuningConfig()
	}

	mergeCfg := tuning.MergerConfig()

	// Sensor model descriptor: per-sensor thresholds merge into the policy,
	// with tuning overrides winning.
	var descriptor *model.Descriptor
	if *modelPath != "" {
		loaded, err := model.Load(fsutil.OSFileSystem{}, *modelPath)
		if err != nil {
			log.Fatalf("Failed to load sensor model: %v", err)
		}
		descriptor = loaded
		for name, threshold := range descriptor.Thresholds() {
			if _, ok := mergeCfg.SensorThresholds[name]; ok {
				continue
			}
			if mergeCfg.SensorThresholds == nil {
				mergeCfg.SensorThresholds = make(map[string]float64)
			}
			mergeCfg.SensorThresholds[name] = threshold
		}
		log.Printf("Loaded sensor model from %s (%d sensors)", *modelPath, len(descriptor.Names()))
	}

	merger, err := merge.New(mergeCfg)
	if err != nil {
		log.Fatalf("Invalid merger configuration: %v", err)
	}

	// Database and run identity
	tdb, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open tactile database: %v", err)
	}
	defer tdb.Close()

	label := *runLabel
	if label == "" {
		label = fmt.Sprintf("daemon_%s", time.Now().Format("20060102_150405"))
	}
	runID, err := tdb.CreateRun(label)
	if err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}
	log.Printf("Recording under run %s (%s)", runID, label)

	// Updater chain: sources -> [recorder] -> state writer -> merger
	writer, err := db.NewStateWriter(tdb, db.StateWriterConfig{
		RunID:        runID,
		BatchSize:    tuning.GetBatchSize(),
		BatchTimeout: tuning.GetBatchTimeout(),
	}, merger)
	if err != nil {
		log.Fatalf("Failed to create state writer: %v", err)
	}

	var updater ingest.Updater = writer
	var recorder *ingest.Recorder
	if *record {
		recorder, err = ingest.NewRecorder(fsutil.OSFileSystem{}, *capturesDir, *recordLabel, tuning.GetCaptureKeep(), updater)
		if err != nil {
			log.Fatalf("Failed to create capture recorder: %v", err)
		}
		defer recorder.Close()
		updater = recorder
		log.Printf("Recording captures to %s", recorder.Path())
	}

	statsInterval := time.Duration(*logInterval) * time.Second

	// Ingest sources
	var sources []ingest.Source
	sourceStats := make(map[string]*ingest.Stats)

	if *udpAddr != "" {
		stats := ingest.NewStats()
		udp, err := ingest.NewUDPSource(ingest.UDPSourceConfig{
			Address:        *udpAddr,
			ReadBufferSize: *rcvBuf,
			LogInterval:    statsInterval,
			Updater:        updater,
		}, stats)
		if err != nil {
			log.Fatalf("Failed to create UDP source: %v", err)
		}
		sources = append(sources, udp)
		sourceStats["udp"] = stats
		log.Printf("UDP source on %s", *udpAddr)
	}

	if *kafkaBrokers != "" {
		stats := ingest.NewStats()
		kafkaSrc, err := ingest.NewKafkaSource(ingest.KafkaSourceConfig{
			Brokers:     strings.Split(*kafkaBrokers, ","),
			Topic:       *kafkaTopic,
			GroupID:     *kafkaGroup,
			LogInterval: statsInterval,
			Updater:     updater,
		}, stats)
		if err != nil {
			log.Fatalf("Failed to create Kafka source: %v", err)
		}
		sources = append(sources, kafkaSrc)
		sourceStats["kafka"] = stats
		log.Printf("Kafka source on %s topic %s", *kafkaBrokers, *kafkaTopic)
	}

	if *serialPath != "" {
		stats := ingest.NewStats()
		serialSrc, err := ingest.NewSerialSource(ingest.SerialSourceConfig{
			Path:        *serialPath,
			Options:     ingest.PortOptions{BaudRate: *serialBaud},
			LogInterval: statsInterval,
			Updater:     updater,
		}, stats)
		if err != nil {
			log.Fatalf("Failed to open serial source: %v", err)
		}
		sources = append(sources, serialSrc)
		sourceStats["serial"] = stats
		log.Printf("Serial source on %s @ %d baud", *serialPath, *serialBaud)
	}

	if len(sources) == 0 {
		log.Fatal("No ingest sources configured (need -udp-addr, -kafka-brokers, or -serial)")
	}

	// Publish pipeline
	ring := history.New(tuning.GetHistorySize())
	broadcaster := publish.NewBroadcaster()
	defer broadcaster.Close()
	transitions := db.NewTransitionRecorder(tdb, runID, db.DefaultSnapshotInterval)

	sinks := []publish.Sink{
		publish.HistorySink{Ring: ring},
		broadcaster,
		transitions,
	}
	if *kafkaBrokers != "" {
		contactSink, err := publish.NewKafkaSink(publish.KafkaSinkConfig{
			Brokers: strings.Split(*kafkaBrokers, ","),
			Topic:   *contactTopic,
		})
		if err != nil {
			log.Fatalf("Failed to create Kafka contact sink: %v", err)
		}
		defer contactSink.Close()
		sinks = append(sinks, contactSink)
		log.Printf("Publishing contact snapshots to Kafka topic %s", *contactTopic)
	}
	if *dev {
		sinks = append(sinks, publish.NewLogSink())
	}

	driver, err := publish.NewDriver(publish.DriverConfig{
		Interval:    tuning.GetPublishInterval(),
		LogInterval: statsInterval,
	}, merger, sinks...)
	if err != nil {
		log.Fatalf("Failed to create publish driver: %v", err)
	}

	// Web server
	webServer, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address:     *listen,
		Merger:      merger,
		Ring:        ring,
		Broadcaster: broadcaster,
		Driver:      driver,
		Sources:     sourceStats,
		DB:          tdb,
		Descriptor:  descriptor,
		CapturesDir: *capturesDir,
	})
	if err != nil {
		log.Fatalf("Failed to create web server: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, src := range sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Source error: %v", err)
			}
			src.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := writer.Run(ctx); err != nil {
			log.Printf("State writer error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.Run(ctx); err != nil {
			log.Printf("Publish driver error: %v", err)
		}
		// Close any episodes still open so the contact log has no dangling
		// rows after shutdown.
		if err := transitions.Flush(time.Now()); err != nil {
			log.Printf("Transition flush error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	log.Printf("tactile daemon running; HTTP on %s", *listen)
	wg.Wait()
	log.Println("tactile daemon stopped")
}
