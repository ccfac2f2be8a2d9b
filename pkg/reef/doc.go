// Package reef is an incremental indexing engine: declare a pipeline as a
// tree of components that pull data from sources, transform it through
// memoized functions, and declare desired state on external targets; the
// engine makes the external world converge toward the declaration,
// skipping work whose inputs have not changed, durably across restarts.
//
// # Scopes
//
// Three nested scopes own everything:
//
//	planet (process) ⊇ Environment (store directory) ⊇ App (named namespace)
//
// An Environment opens one embedded store directory and registers root
// effect providers. An App binds a root builder to an exclusive name;
// App.Update runs one build pass.
//
// # A build pass
//
// Update walks the component tree, invoking each builder with a *Ctx.
// Builders declare effects (Declare), call memoized functions (Cached),
// and spawn children (Ctx.Component), which may run concurrently. When the
// tree finishes, the engine reconciles every declared effect against the
// persisted state — including orphans, which converge to absent — groups
// the resulting actions by sink, delivers each batch exactly once, and
// commits the pass atomically.
//
// # Minimal example
//
//	env, err := reef.NewEnvironment(reef.Settings{Dir: dir})
//	if err != nil {
//	    return err
//	}
//	defer env.Close()
//
//	provider, err := reef.NewProvider(env, "rows", rowReconciler)
//	if err != nil {
//	    return err
//	}
//
//	app, err := reef.NewApp("my-index", env, func(c *reef.Ctx) error {
//	    for _, doc := range docs {
//	        chunks, err := reef.Cached(c, doc, chunkDocument)
//	        if err != nil {
//	            return err
//	        }
//	        if _, err := reef.Declare(c, provider, doc.ID, chunks); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//	return app.Update(ctx)
package reef
