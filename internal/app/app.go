package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"luks-keeper/internal/config"
	"luks-keeper/internal/database"
	"luks-keeper/internal/encryption"
	"luks-keeper/internal/executor"
	"luks-keeper/internal/keeper"
	"luks-keeper/internal/keystore"
	"luks-keeper/internal/secret"
	"luks-keeper/internal/system"
)

// App is the application layer between the CLI and the keeper core.
// It constructs all dependencies from config, exposes the operations the
// CLI offers, and records state-changing runs in the history.
type App struct {
	cfg       *config.Config
	plan      *keeper.Plan
	keys      keeper.KeyStore
	encryptor keeper.Encryptor
	executor  keeper.Executor
	probe     keeper.Probe
	history   keeper.History
	prompter  Prompter
	logger    keeper.Logger
	clock     keeper.Clock
	op        *Operation
	logFile   *os.File
}

// Deps are the collaborators of an App. Nil Logger and Clock use the
// no-op logger and the real clock.
type Deps struct {
	Keys      keeper.KeyStore
	Encryptor keeper.Encryptor
	Executor  keeper.Executor
	Probe     keeper.Probe
	History   keeper.History
	Prompter  Prompter
	Logger    keeper.Logger
	Clock     keeper.Clock
}

// New creates an App for command from already constructed dependencies.
func New(cfg *config.Config, command string, deps Deps) *App {
	if deps.Logger == nil {
		deps.Logger = keeper.NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = keeper.RealClock{}
	}
	return &App{
		cfg:       cfg,
		plan:      cfg.Plan(),
		keys:      deps.Keys,
		encryptor: deps.Encryptor,
		executor:  deps.Executor,
		probe:     deps.Probe,
		history:   deps.History,
		prompter:  deps.Prompter,
		logger:    deps.Logger,
		clock:     deps.Clock,
		op:        NewOperation(command),
	}
}

// NewApp creates a fully wired App from the given config. command names
// the CLI command being run (e.g. "mount", "key"). The caller must call
// Close when done.
func NewApp(ctx context.Context, cfg *config.Config, command string, prompter Prompter, verbose bool) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("command", command)}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	blobs, err := keystore.NewBlobStoreFromConfig(ctx, cfg.KeyStore)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating keystore: %w", err)
	}

	history, err := database.NewHistoryFromConfig(cfg.History)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	exec := executor.New(logger)
	a := New(cfg, command, Deps{
		Keys:      keystore.NewSealedKeyStore(blobs, enc, identityUnlocker(enc, prompter), cfg.Recipient, logger),
		Encryptor: enc,
		Executor:  exec,
		Probe:     system.NewHostProbe(exec),
		History:   history,
		Prompter:  prompter,
		Logger:    logger,
	})
	a.logFile = logFile
	return a, nil
}

// identityUnlocker asks for the identity passphrase the first time a record
// has to be decrypted.
func identityUnlocker(enc keeper.Encryptor, p Prompter) keystore.Unlocker {
	return func() (keeper.DecryptionContext, error) {
		if !enc.IsConfigured() {
			return nil, fmt.Errorf("no identity configured (run 'luks-keeper identity init')")
		}
		pass, err := p.Secret("Identity passphrase")
		if err != nil {
			return nil, err
		}
		defer secret.Zero(pass)
		return enc.Unlock(string(pass))
	}
}

// persistOperation records the run in the history. Only state-changing
// commands call it.
func (a *App) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.history.StartRun(ctx, a.op.Command)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	a.op.RunID = run.ID
	return nil
}

func (a *App) device(name string) (keeper.Device, error) {
	for _, d := range a.plan.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return keeper.Device{}, fmt.Errorf("unknown device %q", name)
}

// EnsureKey makes sure a passphrase record exists for device, prompting
// for the passphrase only when it is missing. It reports whether a record
// was created. An empty recipient uses the configured default.
func (a *App) EnsureKey(ctx context.Context, device, recipient string) (bool, error) {
	if _, err := a.device(device); err != nil {
		return false, err
	}

	exists, err := a.keys.Exists(ctx, device)
	if err != nil {
		return false, fmt.Errorf("checking passphrase record for %s: %w", device, err)
	}
	if exists {
		a.logger.Debug("passphrase record present", "device", device)
		return false, nil
	}

	if err := a.persistOperation(ctx); err != nil {
		return false, err
	}
	pass, err := readNewSecret(a.prompter, "LUKS passphrase for "+device)
	if err != nil {
		a.op.Fail(err)
		return false, err
	}
	defer secret.Zero(pass)

	if err := a.keys.Store(ctx, device, pass, recipient); err != nil {
		a.op.Fail(err)
		return false, err
	}
	a.logger.Info("passphrase record stored", "device", device)
	return true, nil
}

// RotateKey replaces the passphrase record for device after confirmation,
// which assumeYes skips. A missing record is simply created. It reports
// whether a record was written.
func (a *App) RotateKey(ctx context.Context, device, recipient string, assumeYes bool) (bool, error) {
	if _, err := a.device(device); err != nil {
		return false, err
	}

	exists, err := a.keys.Exists(ctx, device)
	if err != nil {
		return false, fmt.Errorf("checking passphrase record for %s: %w", device, err)
	}
	if !exists {
		return a.EnsureKey(ctx, device, recipient)
	}

	if !assumeYes {
		ok, err := a.prompter.Confirm(fmt.Sprintf("Replace the stored passphrase for %s?", device))
		if err != nil {
			return false, err
		}
		if !ok {
			a.logger.Info("rotation declined", "device", device)
			return false, nil
		}
	}

	if err := a.persistOperation(ctx); err != nil {
		return false, err
	}
	pass, err := readNewSecret(a.prompter, "New LUKS passphrase for "+device)
	if err != nil {
		a.op.Fail(err)
		return false, err
	}
	defer secret.Zero(pass)

	if err := a.keys.Rotate(ctx, device, pass, recipient); err != nil {
		a.op.Fail(err)
		return false, err
	}
	a.logger.Info("passphrase record rotated", "device", device)
	return true, nil
}

func (a *App) orchestrator() *keeper.Orchestrator {
	return keeper.NewOrchestrator(a.plan, a.keys, a.executor, a.probe, a.logger, a.clock)
}

// Mount ensures every device has a passphrase record, then opens and
// mounts all devices and runs the snapshot phase.
func (a *App) Mount(ctx context.Context) (*keeper.Result, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}

	for _, d := range a.plan.Devices {
		if _, err := a.EnsureKey(ctx, d.Name, ""); err != nil {
			a.op.Fail(err)
			return nil, err
		}
	}

	result, err := a.orchestrator().Mount(ctx)
	if result != nil {
		a.op.Snapshot = result.Snapshot
	}
	a.op.Fail(err)
	return result, err
}

// Unmount unmounts and closes all devices.
func (a *App) Unmount(ctx context.Context) (*keeper.Result, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}
	result, err := a.orchestrator().Unmount(ctx)
	a.op.Fail(err)
	return result, err
}

// Status reports the probed state of every device.
func (a *App) Status(ctx context.Context) ([]keeper.DeviceReport, error) {
	return a.orchestrator().Status(ctx)
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*keeper.Run, error) {
	return a.history.ListRuns(ctx, limit)
}

// Close finishes the run record, if any, and releases resources. It uses
// a fresh context so a timed-out run is still recorded.
func (a *App) Close() error {
	var errs []error

	if a.op.Persisted() {
		err := a.history.FinishRun(context.Background(), a.op.RunID, a.op.Status, a.op.Error, a.op.Snapshot)
		if err != nil {
			errs = append(errs, fmt.Errorf("finishing run: %w", err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// InitIdentity generates the identity used to seal passphrase records,
// prompting for the passphrase that protects its private key. It returns
// the public key when the encryptor exposes one.
func InitIdentity(cfg *config.Config, prompter Prompter) (string, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return "", fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() {
		return "", fmt.Errorf("identity already exists at %s", cfg.Encryption.PrivateKeyPath)
	}

	pass, err := readNewSecret(prompter, "Identity passphrase")
	if err != nil {
		return "", err
	}
	defer secret.Zero(pass)

	if err := enc.Setup(string(pass)); err != nil {
		return "", fmt.Errorf("generating identity: %w", err)
	}

	if pk, ok := enc.(interface{ PublicKey() (string, error) }); ok {
		return pk.PublicKey()
	}
	return "", nil
}
