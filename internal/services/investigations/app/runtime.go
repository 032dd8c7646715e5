package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/platform/discovery"
	"github.com/corvid-labs/fieldaudit/internal/platform/timeouts"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/domain"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage"
	investigationssqlite "github.com/corvid-labs/fieldaudit/internal/services/investigations/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls investigations startup and scan loop behavior.
type RuntimeConfig struct {
	Port           int
	DBPath         string
	ScanInterval   time.Duration
	SeedSampleData bool
}

const (
	defaultInvestigationsDB = "data/investigations.db"
	defaultScanInterval     = 10 * time.Minute
)

// Runtime bundles the wired investigations service and its resources.
type Runtime struct {
	Store    *investigationssqlite.Store
	Service  *domain.Service
	notifier *asyncNotifier
}

// NewRuntime opens storage at dbPath and wires the domain service with the
// async log notifier.
func NewRuntime(dbPath string) (*Runtime, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = defaultInvestigationsDB
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create investigations storage dir: %w", err)
		}
	}
	store, err := investigationssqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open investigations sqlite store: %w", err)
	}

	notifier := newAsyncNotifier(logNotifier{}, 0)
	adapter := newDomainStoreAdapter(Stores{
		Catalog:    store,
		Instances:  store,
		Executions: store,
		Results:    store,
	})
	service := domain.NewService(adapter, newRecordSourceAdapter(store), domain.DefaultRegistry(), notifier, nil, nil)
	return &Runtime{Store: store, Service: service, notifier: notifier}, nil
}

// Close waits for in-flight runs, drains notifications, and closes storage.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Service != nil {
		r.Service.Wait()
	}
	if r.notifier != nil {
		r.notifier.Close()
	}
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}

// Run starts the investigations runtime: health endpoint plus a periodic
// scan loop that launches every active investigator.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.DefaultGRPCPort(discovery.ServiceInvestigations)
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}

	runtime, err := NewRuntime(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			log.Printf("close investigations runtime: %v", closeErr)
		}
	}()

	if err := runtime.Service.EnsureDefaultCatalog(ctx); err != nil {
		return fmt.Errorf("ensure investigator catalog: %w", err)
	}
	if cfg.SeedSampleData {
		if err := SeedSampleRecords(ctx, runtime.Store, time.Now().UTC()); err != nil {
			return fmt.Errorf("seed sample records: %w", err)
		}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on investigations port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(discovery.ServiceInvestigations+".runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			grpcServer.Stop()
		}
		<-serveErr
	}()

	log.Printf("investigations server listening at %v", listener.Addr())
	return runScanLoop(ctx, runtime.Service, cfg.ScanInterval)
}

// runScanLoop launches every active investigator on each tick until the
// context is cancelled.
func runScanLoop(ctx context.Context, service *domain.Service, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := startActiveInvestigators(ctx, service); err != nil {
				log.Printf("scan tick failed: %v", err)
			}
		}
	}
}

func startActiveInvestigators(ctx context.Context, service *domain.Service) error {
	instances, err := service.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("list investigators: %w", err)
	}
	for _, instance := range instances {
		if !instance.Active {
			continue
		}
		executionID, started, err := service.StartInvestigator(ctx, instance.ID)
		if err != nil {
			log.Printf("start investigator %s: %v", instance.ID, err)
			continue
		}
		if started {
			log.Printf("investigator %s launched execution %s", instance.ID, executionID)
		}
	}
	return nil
}

// SeedSampleRecords loads a small demonstration batch of invoices and
// waybills when the record tables are empty.
func SeedSampleRecords(ctx context.Context, records storage.RecordSource, now time.Time) error {
	invoices, err := records.ListInvoices(ctx)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		samples := []storage.InvoiceRecord{
			{ID: "inv-sample-1", Number: "INV-1001", TotalCents: 125000, TaxCents: 11250, IssuedAt: now.Add(-72 * time.Hour)},
			{ID: "inv-sample-2", Number: "INV-1002", TotalCents: -4300, TaxCents: 0, IssuedAt: now.Add(-48 * time.Hour)},
			{ID: "inv-sample-3", Number: "INV-1003", TotalCents: 50000, TaxCents: 30000, IssuedAt: now.Add(-24 * time.Hour)},
			{ID: "inv-sample-4", Number: "INV-1004", TotalCents: 78000, TaxCents: 7020, IssuedAt: now.Add(96 * time.Hour)},
		}
		for _, sample := range samples {
			if err := records.PutInvoice(ctx, sample); err != nil {
				return err
			}
		}
	}

	waybills, err := records.ListWaybills(ctx)
	if err != nil {
		return err
	}
	if len(waybills) == 0 {
		dueSoon := now.Add(36 * time.Hour)
		overdue := now.Add(-24 * time.Hour)
		delivered := now.Add(-12 * time.Hour)
		samples := []storage.WaybillRecord{
			{ID: "wb-sample-1", Number: "WB-2001", IssuedAt: now.Add(-120 * time.Hour), DueAt: &dueSoon},
			{ID: "wb-sample-2", Number: "WB-2002", IssuedAt: now.Add(-240 * time.Hour), DueAt: &overdue},
			{ID: "wb-sample-3", Number: "WB-2003", IssuedAt: now.Add(-240 * time.Hour), DueAt: &overdue, DeliveredAt: &delivered},
			{ID: "wb-sample-4", Number: "WB-2004", IssuedAt: now.Add(-45 * 24 * time.Hour)},
		}
		for _, sample := range samples {
			if err := records.PutWaybill(ctx, sample); err != nil {
				return err
			}
		}
	}
	return nil
}
