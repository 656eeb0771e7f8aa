package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// defaultInitTimeout bounds the initialize() lifecycle call.
const defaultInitTimeout = 10 * time.Second

// Loader validates plugin packages and instantiates their code. It builds
// the capability gate before the script ever runs, so plugin code only
// ever sees the restricted host API view.
type Loader struct {
	api    HostAPI
	report DenialReporter
	log    *logrus.Logger

	initTimeout time.Duration
}

// NewLoader creates a loader. report receives ungranted capability calls
// from every gate the loader builds.
func NewLoader(api HostAPI, report DenialReporter, log *logrus.Logger) *Loader {
	return &Loader{
		api:         api,
		report:      report,
		log:         log,
		initTimeout: defaultInitTimeout,
	}
}

// Install validates the package directory and instantiates the plugin.
//
// A malformed manifest fails the install. A script or initialize() failure
// does not: the plugin comes back with StatusError and LastError set, so
// the administrative UI can show and remove it instead of the failure
// being swallowed. The returned host is live in either case and must be
// closed by whoever ends up owning it.
func (l *Loader) Install(ctx context.Context, dir string) (*Plugin, *Host, error) {
	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	p := &Plugin{
		ID:          uuid.NewString(),
		Name:        manifest.Name,
		Version:     manifest.Version,
		Author:      manifest.Author,
		Description: manifest.Description,
		Path:        manifest.Path(),
		Enabled:     true,
		Permissions: append([]Permission(nil), manifest.Permissions...),
		InstalledAt: now,
		LastUpdated: now,
		Runtime:     RuntimeInfo{Status: StatusLoaded},
	}

	host := l.instantiate(ctx, p, manifest)
	p.Hooks = host.Hooks()
	return p, host, nil
}

// Attach rebuilds a live host for a previously installed plugin, re-running
// its script and initialize(). Used on startup restore, on re-enable of an
// entry restored inert, and on reload after the package changed on disk.
//
// Permissions come from the persisted record, not from the manifest as it
// stands now on disk: granted tokens are immutable without re-consent, so
// a package update cannot widen its own grant.
//
// The load outcome is folded into p — status, last error and the exported
// hook set — and the caller is responsible for applying it to the
// authoritative record.
func (l *Loader) Attach(ctx context.Context, p *Plugin) (*Host, error) {
	manifest, err := LoadManifestFromDir(p.Path)
	if err != nil {
		return nil, err
	}

	host := l.instantiate(ctx, p, manifest)
	p.Hooks = host.Hooks()
	return host, nil
}

// instantiate builds the gate and host, runs the script and calls
// initialize(), folding any failure into the plugin record.
func (l *Loader) instantiate(ctx context.Context, p *Plugin, manifest *Manifest) *Host {
	gate := NewGate(p.ID, p.Name, p.Permissions, l.api, l.report)
	host := NewHost(p.ID, manifest, gate, l.log)

	ictx, cancel := context.WithTimeout(ctx, l.initTimeout)
	defer cancel()

	if err := host.Load(ictx); err != nil {
		p.Runtime.Status = StatusError
		p.Runtime.LastError = err.Error()
		l.log.WithField("plugin", p.Name).WithError(err).Warn("plugin script failed to load")
		return host
	}
	if err := host.Initialize(ictx); err != nil {
		p.Runtime.Status = StatusError
		p.Runtime.LastError = err.Error()
		l.log.WithField("plugin", p.Name).WithError(err).Warn("plugin initialize failed")
		return host
	}

	p.Runtime.Status = StatusLoaded
	return host
}
