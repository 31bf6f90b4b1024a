package background

import (
	"context"
	"log"
	"sync"
	"time"

	"authcore/internal/config"
	"authcore/internal/keys"
	"authcore/internal/models"
)

// Reconciler re-aligns the resource fleet with the shared catalog.
type Reconciler interface {
	RefreshIfRequired(ctx context.Context)
}

// Janitor physically removes soft-deleted catalog rows past retention.
type Janitor interface {
	PurgeSoftDeleted(ctx context.Context, before time.Time) (int64, error)
}

// Runner manages the recurring jobs: periodic reconcile, soft-delete cleanup
// and signing-key rotation. It also receives the tenant list after every
// reconcile so per-tenant jobs follow the catalog.
type Runner struct {
	reconciler Reconciler
	janitor    Janitor
	keys       *keys.SigningKeys
	config     config.BackgroundConfig

	stopCh chan struct{}
	wg     sync.WaitGroup

	reconcileTicker *time.Ticker
	janitorTicker   *time.Ticker
	rotationTicker  *time.Ticker

	mu      sync.Mutex
	tenants []models.TenantIdentifier
}

// NewRunner creates a new background runner
func NewRunner(reconciler Reconciler, cfg config.BackgroundConfig) *Runner {
	return &Runner{
		reconciler: reconciler,
		config:     cfg,
		stopCh:     make(chan struct{}),
	}
}

// SetJanitor sets the catalog store used by the cleanup job
func (r *Runner) SetJanitor(janitor Janitor) {
	r.janitor = janitor
}

// SetSigningKeys sets the key registries swept by the rotation job
func (r *Runner) SetSigningKeys(sk *keys.SigningKeys) {
	r.keys = sk
}

// SetTenantsInfo replaces the tenant list the per-tenant jobs iterate. Called
// by the reconciler after every successful resource reload.
func (r *Runner) SetTenantsInfo(identifiers []models.TenantIdentifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = identifiers
}

// TenantsInfo returns the tenant list of the last reconcile.
func (r *Runner) TenantsInfo() []models.TenantIdentifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TenantIdentifier, len(r.tenants))
	copy(out, r.tenants)
	return out
}

// Start begins the background job processing
func (r *Runner) Start() {
	log.Println("Starting background job runner...")

	r.reconcileTicker = time.NewTicker(r.config.ReconcileInterval)
	log.Printf("Tenant reconcile job scheduled every %v", r.config.ReconcileInterval)

	r.wg.Add(1)
	go r.runReconcileJob()

	if r.janitor != nil {
		r.janitorTicker = time.NewTicker(r.config.JanitorInterval)
		log.Printf("Catalog cleanup job scheduled every %v (retention %v)",
			r.config.JanitorInterval, r.config.SoftDeleteRetention)

		r.wg.Add(1)
		go r.runJanitorJob()
	}

	if r.keys != nil {
		r.rotationTicker = time.NewTicker(r.config.KeyRotationInterval)
		log.Printf("Signing-key rotation job scheduled every %v", r.config.KeyRotationInterval)

		r.wg.Add(1)
		go r.runRotationJob()
	}

	log.Println("Background job runner started successfully")
}

// Stop gracefully stops all background jobs
func (r *Runner) Stop() {
	log.Println("Stopping background job runner...")
	close(r.stopCh)

	if r.reconcileTicker != nil {
		r.reconcileTicker.Stop()
	}
	if r.janitorTicker != nil {
		r.janitorTicker.Stop()
	}
	if r.rotationTicker != nil {
		r.rotationTicker.Stop()
	}

	// Wait for goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Background job runner stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("Background job runner stop timeout - forcing shutdown")
	}
}

// runReconcileJob keeps the fleet aligned with the catalog even when no admin
// API call forces a refresh, e.g. after writes from another core instance.
func (r *Runner) runReconcileJob() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			log.Println("Reconcile job stopping...")
			return
		case <-r.reconcileTicker.C:
			r.executeReconcile()
		}
	}
}

func (r *Runner) executeReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	r.reconciler.RefreshIfRequired(ctx)
}

// runJanitorJob runs the catalog cleanup job periodically
func (r *Runner) runJanitorJob() {
	defer r.wg.Done()

	// Run immediately on start to catch rows that aged out while the
	// service was down
	r.executeJanitor()

	for {
		select {
		case <-r.stopCh:
			log.Println("Cleanup job stopping...")
			return
		case <-r.janitorTicker.C:
			r.executeJanitor()
		}
	}
}

// executeJanitor permanently deletes soft-deleted rows past retention
func (r *Runner) executeJanitor() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("Running catalog cleanup job...")
	purged, err := r.janitor.PurgeSoftDeleted(ctx, time.Now().Add(-r.config.SoftDeleteRetention))
	if err != nil {
		log.Printf("Error in catalog cleanup job: %v", err)
	} else if purged > 0 {
		log.Printf("Catalog cleanup job completed: %d rows permanently deleted", purged)
		r.executeReconcile()
	} else {
		log.Println("Catalog cleanup job completed: no rows to purge")
	}
}

// runRotationJob sweeps the signing-key registries periodically
func (r *Runner) runRotationJob() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			log.Println("Key rotation job stopping...")
			return
		case <-r.rotationTicker.C:
			r.executeRotation()
		}
	}
}

// executeRotation rotates every expired key across all tenants and classes
func (r *Runner) executeRotation() {
	rotated := 0
	for _, registry := range []*keys.Registry{r.keys.AccessToken, r.keys.RefreshToken, r.keys.JWT} {
		for _, id := range registry.Identifiers() {
			mgr := registry.GetInstance(id)
			if mgr == nil {
				continue
			}
			did, err := mgr.RotateIfExpired()
			if err != nil {
				log.Printf("Error rotating signing key for tenant (%s, %s, %s): %v",
					id.ConnectionURIDomain, id.AppID, id.TenantID, err)
				continue
			}
			if did {
				rotated++
			}
		}
	}
	if rotated > 0 {
		log.Printf("Key rotation job completed: %d keys rotated", rotated)
	}
}

// RunOnce runs reconcile and cleanup once (for testing/manual trigger)
func (r *Runner) RunOnce(ctx context.Context) error {
	r.reconciler.RefreshIfRequired(ctx)
	if r.janitor != nil {
		if _, err := r.janitor.PurgeSoftDeleted(ctx, time.Now().Add(-r.config.SoftDeleteRetention)); err != nil {
			return err
		}
	}
	return nil
}
