// Package leader gates session hosting behind a Kubernetes lease so that
// only one replica talks to the messaging network at a time.
package leader

import (
	"context"
	"log/slog"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Config identifies the lease and this replica.
type Config struct {
	Namespace string
	LeaseName string
	Identity  string

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *Config) defaults() {
	if c.LeaseName == "" {
		c.LeaseName = "chat-relay-leader"
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 15 * time.Second
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = 10 * time.Second
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = 2 * time.Second
	}
}

// Callbacks are invoked as leadership changes. Lead runs for as long as this
// replica holds the lease; its ctx is cancelled when leadership is lost.
type Callbacks struct {
	Lead func(ctx context.Context)
	Lost func()
}

// Run blocks until ctx is cancelled, competing for the lease and invoking cb.
func Run(ctx context.Context, cs kubernetes.Interface, cfg Config, cb Callbacks) error {
	cfg.defaults()
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.Namespace,
		},
		Client: cs.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: cfg.Identity,
		},
	}

	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		ReleaseOnCancel: true,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				slog.Info("leader election: became leader, hosting sessions", "id", cfg.Identity)
				if cb.Lead != nil {
					cb.Lead(ctx)
				}
			},
			OnStoppedLeading: func() {
				slog.Info("leader election: lost leadership", "id", cfg.Identity)
				if cb.Lost != nil {
					cb.Lost()
				}
			},
			OnNewLeader: func(identity string) {
				if identity != cfg.Identity {
					slog.Info("leader election: new leader", "leader", identity)
				}
			},
		},
	})
	if err != nil {
		return err
	}

	// Run returns whenever leadership is lost; keep competing until shutdown.
	for ctx.Err() == nil {
		le.Run(ctx)
	}
	return nil
}
