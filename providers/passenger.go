package providers

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/spf13/afero"

	"github.com/chenyanchen/apporch"
)

const DefaultSitesDir = "/etc/apache2/sites-available"

type PassengerOptions struct {
	SitesDir   string `json:"sites_dir,omitempty"`
	ServerName string `json:"server_name,omitempty"`
	Port       int    `json:"port,omitempty"`
}

var vhostTemplate = template.Must(template.New("vhost").Parse(`<VirtualHost *:{{ .Port }}>
  ServerName {{ .ServerName }}
  DocumentRoot {{ .Root }}/public
  RailsEnv {{ .Environment }}
  PassengerAppRoot {{ .Root }}
  <Directory {{ .Root }}/public>
    AllowOverride all
    Options -MultiViews
  </Directory>
</VirtualHost>
`))

type vhostData struct {
	Port        int
	ServerName  string
	Root        string
	Environment string
}

// Passenger renders an apache2 virtual host serving the release through
// Phusion Passenger.
type Passenger struct {
	fs   afero.Fs
	opts PassengerOptions
}

func newPassenger(fs afero.Fs, opts PassengerOptions) (*Passenger, error) {
	if opts.SitesDir == "" {
		opts.SitesDir = DefaultSitesDir
	}
	if opts.Port == 0 {
		opts.Port = 80
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", apporch.ErrInvalidArgument, opts.Port)
	}
	return &Passenger{fs: fs, opts: opts}, nil
}

func (p *Passenger) Options() PassengerOptions { return p.opts }

// SitePath is the vhost file written for app.
func (p *Passenger) SitePath(app apporch.Application) string {
	return filepath.Join(p.opts.SitesDir, app.Name()+".conf")
}

func (p *Passenger) RunPhase(_ context.Context, phase apporch.Phase, app apporch.Application) error {
	if phase != apporch.PhasePreRestart {
		return nil
	}
	serverName := p.opts.ServerName
	if serverName == "" {
		serverName = app.Name()
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, vhostData{
		Port:        p.opts.Port,
		ServerName:  serverName,
		Root:        app.Path(),
		Environment: app.EnvironmentName(),
	}); err != nil {
		return fmt.Errorf("render vhost: %w", err)
	}

	path := p.SitePath(app)
	if err := p.fs.MkdirAll(p.opts.SitesDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", p.opts.SitesDir, err)
	}
	if err := afero.WriteFile(p.fs, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
