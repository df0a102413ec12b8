// Package atom provides lock-free, copy-on-write shared state for Go.
//
// # Overview
//
// Atom organizes shared state around four pieces:
//
//  1. Schemas: one declaration of a record's fields, from which equality, hashing and copy-with-overrides are derived
//  2. Options: values that may be absent, with short-circuiting Map/Chain
//  3. Registers: a single shared slot holding an immutable snapshot, changed only by compare-and-swap
//  4. Combinators: small helpers for writing update transforms without mutation
//
// # Immutable Values
//
// Declare a record's fields once, next to the type:
//
//	type Account struct {
//	    Owner   string
//	    Balance int64
//	}
//
//	var (
//	    owner   = atom.NewProp("Owner", func(a Account) string { return a.Owner }, func(a *Account, v string) { a.Owner = v })
//	    balance = atom.NewProp("Balance", func(a Account) int64 { return a.Balance }, func(a *Account, v int64) { a.Balance = v })
//	    accounts = atom.NewSchema[Account](owner, balance)
//	)
//
//	a := Account{Owner: "ada", Balance: 10}
//	b := accounts.Derive(a, balance.With(20)) // a is unchanged
//	accounts.Equal(a, b)                      // false
//	accounts.Hash(a) == accounts.Hash(a)      // always
//
// # Options
//
// Option models "value or absence". Every chained operation on an absent
// option is skipped:
//
//	name := atom.Map(atom.FromPtr(user), func(u User) string { return u.Name })
//	fmt.Println(name.OrElse("anonymous"))
//
// Forced extraction is explicit and attributable:
//
//	v, err := opt.UnwrapOrFail() // *NullAccessError with caller file:line
//
// # Registers
//
// A register owns exactly one current snapshot. Readers never block:
//
//	reg := atom.NewRegister(Account{Owner: "ada"}, atom.WithName("ada"))
//	current := reg.Load()
//
// Writers publish new snapshots with compare-and-swap:
//
//	// Retry loop: fn is re-run against the fresh value after a lost race
//	next, err := reg.Update(func(a Account) Account {
//	    return accounts.Derive(a, balance.With(a.Balance+5))
//	})
//
//	// Bounded retry loop
//	_, err = reg.Update(fn, atom.WithMaxRetries(8)) // *ContentionExceededError when exhausted
//
//	// Identity CAS on the snapshot handle
//	snap := reg.LoadSnapshot()
//	_, ok := reg.CompareAndSwapSnapshot(snap, updated)
//
//	// Value CAS using the register's equality
//	ok = reg.CompareAndSwap(expected, updated)
//
// Every successful swap increments the snapshot version by one, so
// Version() exposes the total order of publications.
//
// # Singletons
//
// A Registry initializes one instance per type, first writer wins:
//
//	db, err := atom.Singleton(scope.Registry(), func() (*DB, error) {
//	    return OpenDB()
//	})
//
// # Combinators
//
//	doubled := atom.TransformEach([]int{1, 2, 3}, func(x int) int { return x * 2 })
//	acc := atom.ScopedApply(reg.Load(), func(a Account) { log.Println(a.Owner) })
//	n := atom.ScopedLet(reg.Load(), func(a Account) int64 { return a.Balance })
//	fn := atom.Compose(deposit(5), applyFee)
//
// # Extensions
//
// Registers attached to a scope run the scope's extensions around
// Update and CompareAndSwap:
//
//	scope := atom.NewScope(
//	    atom.WithExtension(extensions.NewLoggingExtension(logger)),
//	    atom.WithExtension(extensions.NewMetricsExtension(prometheus.DefaultRegisterer, "app")),
//	)
//	defer scope.Dispose()
//
//	reg := atom.NewRegister(Account{}, atom.WithScope(scope), atom.WithName("ledger"))
//
// Extensions observe publications and conflicts but never change
// register semantics.
//
// # Thread Safety
//
// All operations are safe for concurrent use:
//   - Load and LoadSnapshot are wait-free
//   - CompareAndSwap never blocks and reports failure by returning false
//   - Update is lock-free; an unbounded Update may starve under sustained contention
package atom
