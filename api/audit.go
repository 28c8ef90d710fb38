package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"tasklist-api/domain"
)

// The audit sender ships events to the audit queue off the request path.
// Delivery is best-effort: when the buffer is saturated or the queue is down
// the event is logged and dropped, never failing the mutation it describes.

type auditJob struct {
	userID string
	events []domain.Event
}

var (
	auditOnce    sync.Once
	auditJobs    chan auditJob
	auditWorkers int
	auditBuf     int
	auditTimeout time.Duration
	auditBG      = context.Background()
	auditStore   Storage
	auditLog     *log.Logger
	auditWG      sync.WaitGroup
)

func initAuditSender(store Storage, logger *log.Logger) {
	auditOnce.Do(func() {
		auditStore = store
		if logger == nil {
			panic("Logger is not initialized")
		}
		auditLog = logger

		auditWorkers = envInt("AUDIT_WORKERS", 4)
		auditBuf = envInt("AUDIT_BUFFER", 1024)
		auditTimeout = envDur("AUDIT_TIMEOUT", 30*time.Second)

		auditJobs = make(chan auditJob, auditBuf)
		for i := 0; i < auditWorkers; i++ {
			auditWG.Add(1)
			go auditWorker(i, auditJobs)
		}
		auditLog.Infof("audit sender started, workers: %d, buffer: %d, timeout: %v", auditWorkers, auditBuf, auditTimeout)
	})
}

// shutdownAuditSender stops worker goroutines and clears shared state. It is intended for tests.
func shutdownAuditSender() {
	if auditJobs != nil {
		close(auditJobs)
		auditJobs = nil
	}

	auditWG.Wait()

	auditStore = nil
	auditLog = nil
	auditWorkers = 0
	auditBuf = 0
	auditTimeout = 0
	auditOnce = sync.Once{}
	auditWG = sync.WaitGroup{}
}

func auditWorker(id int, jobCh <-chan auditJob) {
	defer auditWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(auditBG, auditTimeout)
		err := auditStore.EnqueueEvents(ctx, j.userID, j.events)
		cancel()

		if err != nil {
			auditLog.Errorf("audit enqueue failed, err: %v, user: %s, count: %d, worker: %d", err, j.userID, len(j.events), id)
		}
	}
}

// recordAudit builds an audit event and hands it to the sender without
// blocking the caller.
func recordAudit(userID, entityType, entityID, eventType string, data any) {
	if auditJobs == nil {
		return
	}

	var payload sonic.NoCopyRawMessage
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			if auditLog != nil {
				auditLog.Warnf("audit payload marshal failed: %v", err)
			}
			raw = nil
		}
		payload = raw
	}

	ts := nextTimestamp()
	job := auditJob{
		userID: userID,
		events: []domain.Event{{
			ID:         strconv.FormatInt(ts, 36),
			EntityType: entityType,
			EntityID:   entityID,
			Type:       eventType,
			Data:       payload,
			Timestamp:  ts,
		}},
	}

	if !tryEnqueueAudit(job) && auditLog != nil {
		auditLog.Warnf("audit buffer saturated, dropping event, user: %s, type: %s", userID, eventType)
	}
}

func tryEnqueueAudit(job auditJob) (ok bool) {
	if auditJobs == nil {
		return false
	}

	// The channel may be closed by a concurrent shutdown.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case auditJobs <- job:
		return true
	default:
		return false
	}
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDur(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
