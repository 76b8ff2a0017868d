package ha

import (
	"context"
	"log/slog"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// LeaderElector runs singleton loops, such as audit archiving and the job
// scheduler, on exactly one replica.
type LeaderElector struct {
	config   *Config
	client   kubernetes.Interface
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewLeaderElector creates a LeaderElector. client may be nil when election
// is disabled.
func NewLeaderElector(cfg *Config, client kubernetes.Interface, logger *slog.Logger) *LeaderElector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		client:   client,
		identity: cfg.Identity,
		logger:   logger,
	}
}

// InClusterClient builds a Kubernetes client from the pod's service account.
func InClusterClient() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
}

// Lead runs fn while this instance holds leadership, blocking until ctx is
// done. The context passed to fn is cancelled when leadership is lost, after
// which the instance contends again. With election disabled or no client, fn
// runs immediately as the sole leader.
func (le *LeaderElector) Lead(ctx context.Context, fn func(ctx context.Context)) {
	if !le.config.LeaderElectionEnabled || le.client == nil {
		le.logger.Info("leader election disabled, running as sole leader", "identity", le.identity)
		le.setLeader(true)
		defer le.setLeader(false)
		fn(ctx)
		return
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      le.config.LeaseName,
			Namespace: le.config.LeaseNamespace,
		},
		Client: le.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: le.identity,
		},
	}

	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"namespace", le.config.LeaseNamespace,
		"leaseDuration", le.config.LeaseDuration,
		"renewDeadline", le.config.RenewDeadline,
		"retryPeriod", le.config.RetryPeriod,
	)

	for ctx.Err() == nil {
		leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
			Lock:            lock,
			LeaseDuration:   le.config.LeaseDuration,
			RenewDeadline:   le.config.RenewDeadline,
			RetryPeriod:     le.config.RetryPeriod,
			ReleaseOnCancel: true,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					le.setLeader(true)
					le.logger.Info("elected as leader", "identity", le.identity)
					fn(ctx)
				},
				OnStoppedLeading: func() {
					le.setLeader(false)
					le.logger.Info("lost leadership", "identity", le.identity)
				},
				OnNewLeader: func(identity string) {
					if identity != le.identity {
						le.logger.Info("new leader elected", "leader", identity)
					}
				},
			},
		})
	}
}
