package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/attendance/internal/attendance"
	"example.com/attendance/internal/config"
	"example.com/attendance/internal/console"
	"example.com/attendance/internal/credential"
	"example.com/attendance/internal/device"
	"example.com/attendance/internal/events"
	"example.com/attendance/internal/gateway"
	"example.com/attendance/internal/notify"
	"example.com/attendance/internal/session"
	httptransport "example.com/attendance/internal/transport/http"
)

const refreshCheckInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := credential.OpenSQLite(ctx, cfg.CredentialDBPath)
	if err != nil {
		log.Fatalf("credential store: %v", err)
	}
	defer store.Close()

	notifier := notify.NewLogNotifier(log.New(os.Stdout, "", 0))
	gw := gateway.New(cfg.APIBaseURL, store, gateway.WithTimeout(cfg.APITimeout), gateway.WithNotifier(notifier))
	sess := session.NewManager(gw, store, session.WithNotifier(notifier))

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		publisher, err = events.NewKafkaPublisher(producer, cfg.EventsTopic)
		if err != nil {
			log.Fatalf("events publisher: %v", err)
		}
		log.Printf("publishing attendance events to %s", cfg.EventsTopic)
	}
	defer publisher.Close()

	emitter := events.NewEmitter(publisher, events.WithSubject(func() string {
		identity, ok := sess.Identity()
		if !ok {
			return ""
		}
		return strconv.FormatInt(identity.ID, 10)
	}))
	go emitter.Start(ctx)

	client := attendance.NewClient(gw)
	detector := device.NewPresenceDetector(cfg.SimSubject)

	var con *console.Console
	workflow := attendance.NewWorkflow(
		device.NewSimLocator(cfg.SimLatitude, cfg.SimLongitude, cfg.SimAccuracy),
		device.NewSimCamera(),
		detector,
		client,
		attendance.WithLocateOptions(attendance.LocateOptions{
			Timeout:      cfg.LocationTimeout,
			MaximumAge:   cfg.LocationMaxAge,
			HighAccuracy: true,
		}),
		attendance.WithObserver(emitter),
		attendance.WithObserver(attendance.ObserverFunc(func(t attendance.Transition) { con.StageChanged(t) })),
	)
	con = console.New(sess, workflow, client, detector, os.Stdout)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsCfg := httptransport.DefaultServerConfig(cfg.MetricsAddress)
	metricsServer := httptransport.NewServer(metricsCfg, mux)
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		log.Printf("metrics listening on %s", cfg.MetricsAddress)
		if err := httptransport.ListenAndServe(ctx, metricsServer, metricsCfg.ShutdownTimeout); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	if err := sess.Bootstrap(ctx); err != nil {
		log.Printf("session bootstrap: %v", err)
	}
	if identity, ok := sess.Identity(); ok {
		log.Printf("resumed session for %s", identity.Email)
	}

	go refreshLoop(ctx, sess, cfg.RefreshMargin)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- con.Run(ctx, os.Stdin)
	}()

	select {
	case <-shutdownCh:
	case err := <-consoleDone:
		if err != nil {
			log.Printf("console: %v", err)
		}
	}
	cancel()

	emitter.Wait()
	<-metricsDone
	log.Printf("kiosk stopped")
}

// refreshLoop renews the credential shortly before it expires. A failed
// refresh signs the user out.
func refreshLoop(ctx context.Context, sess *session.Manager, margin time.Duration) {
	ticker := time.NewTicker(refreshCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sess.RefreshDue(margin) {
				continue
			}
			if err := sess.Refresh(ctx); err != nil {
				log.Printf("refresh session: %v", err)
			}
		}
	}
}
