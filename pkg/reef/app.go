package reef

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/newbpydev/reef/pkg/reef/observability"
	"github.com/newbpydev/reef/pkg/reef/path"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// ErrAppClosed is returned when updating an app after Close.
var ErrAppClosed = errors.New("app is closed")

// App is a named pipeline bound to an environment. Its name is exclusive
// within the environment for the app's lifetime, and all of its durable
// state lives in the store bucket of the same name.
//
// Example:
//
//	app, err := reef.NewApp("docs-index", env, func(c *reef.Ctx) error {
//	    return c.Component("files", buildFiles)
//	})
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//	if err := app.Update(ctx); err != nil {
//	    return err
//	}
type App struct {
	name        string
	env         *Environment
	reg         *appRegistration
	rootBuilder BuilderFunc

	mu      sync.Mutex // serializes Update and Close
	passSeq uint64
	closed  bool
}

// NewApp registers the app name in the environment and returns the app.
// A name that is already live in this process fails with a client error;
// closing the app releases it.
func NewApp(name string, env *Environment, rootBuilder BuilderFunc) (*App, error) {
	reg, err := newAppRegistration(name, env)
	if err != nil {
		return nil, err
	}
	return &App{
		name:        name,
		env:         env,
		reg:         reg,
		rootBuilder: rootBuilder,
	}, nil
}

// Name returns the app name.
func (a *App) Name() string { return a.name }

// Env returns the environment the app is registered in.
func (a *App) Env() *Environment { return a.env }

// Close releases the app name. The app's durable state is untouched; use
// the store's DeleteApp to remove it.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.reg.release()
	return nil
}

// Update runs one build pass: it walks the component tree from the root
// builder, reconciles every declared effect against the stored state
// (including orphans), delivers batched actions to sinks, and commits the
// pass atomically. On any failure before commit the store is untouched and
// the pass is externally a no-op, because sink actions are idempotent.
//
// Update serializes with itself: concurrent calls run one at a time.
// Canceling ctx aborts pending builders; in-flight sink deliveries run to
// completion, but no new batches are issued.
func (a *App) Update(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("%w: %w", ErrClient, ErrAppClosed)
	}

	start := time.Now()
	a.passSeq++

	txn, err := a.env.store.BeginPass(a.name)
	if err != nil {
		return storageErr(err)
	}

	grp, gctx := errgroup.WithContext(ctx)
	p := &pass{
		app:      a,
		seq:      a.passSeq,
		ctx:      gctx,
		txn:      txn,
		grp:      grp,
		sem:      semaphore.NewWeighted(int64(a.env.Parallelism())),
		declared: make(map[string]*declaredEffect),
		locks:    newMemoLockTable(),
	}

	a.env.logger.Debug("pass started",
		zap.String("app", a.name), zap.Uint64("pass", a.passSeq))
	observability.RecordBreadcrumb("pass", "pass started", map[string]interface{}{
		"app": a.name, "pass": a.passSeq,
	})

	root := newCtx(p, nil, path.Root())
	grp.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return a.rootBuilder(root)
	})

	err = grp.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = p.commitEffects(ctx)
	}
	if err != nil {
		_ = txn.Rollback()
		if errors.Is(err, ErrInvariant) {
			a.env.logger.Error("engine invariant violated",
				zap.String("app", a.name), zap.Uint64("pass", a.passSeq), zap.Error(err))
		}
		a.env.metrics.RecordBuildPass(a.name, time.Since(start), err)
		a.env.logger.Debug("pass aborted",
			zap.String("app", a.name), zap.Uint64("pass", a.passSeq), zap.Error(err))
		observability.RecordBreadcrumb("pass", "pass aborted", map[string]interface{}{
			"app": a.name, "pass": a.passSeq, "error": err.Error(),
		})
		return err
	}

	a.env.metrics.RecordBuildPass(a.name, time.Since(start), nil)
	a.env.logger.Debug("pass committed",
		zap.String("app", a.name), zap.Uint64("pass", a.passSeq))
	observability.RecordBreadcrumb("pass", "pass committed", map[string]interface{}{
		"app": a.name, "pass": a.passSeq,
	})
	return nil
}

// pass carries the state of one Update call: the snapshot-plus-overlay
// transaction, the builder group, and everything the tree declared.
type pass struct {
	app *App
	seq uint64
	ctx context.Context
	txn *store.PassTxn
	grp *errgroup.Group
	sem *semaphore.Weighted

	locks *memoLockTable

	mu       sync.Mutex
	declared map[string]*declaredEffect // keyed by encoded EffectPath
	children []childRecord
}

type childRecord struct {
	parent path.StablePath
	key    path.StableKey
}

func (p *pass) recordChild(parent path.StablePath, key path.StableKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, childRecord{parent: parent, key: key})
}

func (p *pass) addDeclared(d *declaredEffect) error {
	key := string(d.epath.Encode())
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.declared[key]; dup {
		return &DuplicateEffectError{Path: d.epath}
	}
	p.declared[key] = d
	return nil
}
