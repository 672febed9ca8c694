// Package updater assembles the scripting subsystem into a runnable update.
//
// It provides the Environment instructions execute against, the script
// manager that orders package scripts by priority, the Starlark driver that
// turns each registered instruction into a script builtin, and the Helper
// that pairs an instruction registry with its script manager.
//
// A typical run:
//
//	u, err := updater.New(ctx, updater.Options{
//	    Config:    cfg,
//	    Store:     store,
//	    Reader:    reader,
//	    Telemetry: tel,
//	})
//	if err != nil {
//	    return err
//	}
//	defer u.Close(ctx)
//
//	if err := u.AddScript(updater.DefaultScript, 0); err != nil {
//	    return err
//	}
//	return u.Run(ctx)
//
// Each failing instruction stops its script with a *script.Error whose
// Status is the outcome of the run.
package updater
