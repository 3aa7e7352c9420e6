// Package plugin loads the plugins that make up a lock session and runs
// their hooks in dependency order.
//
// # Plugins
//
// A plugin is any value with a Declaration. It takes part in a hook by
// implementing the matching interface:
//
//	lock          Locker         gating
//	authenticate  Authenticator  gating
//	unlock        Unlocker       run-all
//
// A gating hook stops at the first plugin that fails and reports that
// failure. A run-all hook runs every plugin and reports every failure.
// Plugins implementing Closer are closed when unloaded.
//
// # Ordering
//
// Declarations name other plugins in four lists. Before and After constrain
// the order hooks run in; Requires and Conflicts constrain which plugins may
// be loaded together. ResolveDependencies checks the last two and then sorts
// the loaded plugins topologically, keeping load order where nothing else
// decides. Naming an unloaded plugin in Before or After makes resolution
// fail the same way a cycle does.
//
// # Sources
//
// Manager.Load looks in a Registry of built-in factories first and then asks
// its Loader, which searches plugin directories with a list of Openers. A
// directory plugin describes itself in a plugin.json manifest:
//
//	{
//	    "name": "motd",
//	    "main": "init.lua",
//	    "after": ["vt"]
//	}
//
// # Lifecycle
//
//	m := plugin.NewManager(plugin.ManagerConfig{Registry: reg, Loader: loader})
//	if err := m.LoadAll(ctx, []string{"vt", "auth"}); err != nil { ... }
//	if err := m.ResolveDependencies(); err != nil { ... }
//	if err := m.Lock(ctx); err != nil { ... }
//	for m.Authenticate(ctx, req) != nil { ... }
//	m.Unlock(ctx)
//	m.UnloadAll(ctx)
//
// UnloadAll runs in reverse resolved order.
package plugin
