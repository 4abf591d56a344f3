package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/workspace"
	"golang.org/x/crypto/ssh"
)

// Instance paths used by the bootstrap script.
const (
	vmAppDir         = "/opt/app"
	vmCredentialFile = "/root/.froyo-git-credentials"
)

// VMUnitName is the systemd unit that runs a project on its instance.
func VMUnitName(project string) string {
	return "froyo-" + strings.ToLower(project)
}

// VirtualMachineAdapter provisions one droplet that clones, builds and runs
// the project under systemd.
type VirtualMachineAdapter struct{}

// NewVirtualMachineAdapter creates the virtual-machine adapter.
func NewVirtualMachineAdapter() *VirtualMachineAdapter {
	return &VirtualMachineAdapter{}
}

// Kind implements Adapter.
func (a *VirtualMachineAdapter) Kind() engine.ProviderKind {
	return engine.ProviderVirtualMachine
}

// NeedsSource implements Adapter. The instance clones the repository itself.
func (a *VirtualMachineAdapter) NeedsSource() bool {
	return false
}

// Validate implements Adapter.
func (a *VirtualMachineAdapter) Validate(cfg *engine.ProjectConfig) error {
	c := cfg.VirtualMachine
	if c == nil {
		return invalid(a.Kind(), "virtual machine config missing")
	}
	if c.SSHAuthorizedKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.SSHAuthorizedKey)); err != nil {
			return engine.NewConfigValidationError("invalid ssh authorized key", err).WithResource(string(a.Kind()))
		}
	}
	if _, ok := runtimeInstallers[c.Runtime]; !ok {
		return invalid(a.Kind(), "unsupported runtime %q", c.Runtime)
	}
	if _, err := cloneURL(cfg); err != nil {
		return engine.NewConfigValidationError("invalid repository url", err).WithResource(string(a.Kind()))
	}
	return nil
}

// BuildProgramInputs implements Adapter.
func (a *VirtualMachineAdapter) BuildProgramInputs(cfg *engine.ProjectConfig) (*ProgramInputs, error) {
	c := cfg.VirtualMachine
	if c == nil {
		return nil, invalid(a.Kind(), "virtual machine config missing")
	}
	userData, err := BootstrapScript(cfg)
	if err != nil {
		return nil, err
	}

	p := automation.NewProgram(programName(cfg), "Virtual machine for "+cfg.Name)
	in := &ProgramInputs{Program: p}
	in.add("userData", userData, true)

	droplet := map[string]any{
		"image":    c.Image,
		"region":   c.Region,
		"size":     c.Size,
		"name":     cfg.Name + "-server",
		"tags":     []string{cfg.Name},
		"userData": automation.Ref("userData"),
	}
	if c.SSHAuthorizedKey != "" {
		p.Add("operatorKey", "digitalocean:SshKey", map[string]any{
			"name":      cfg.Name + "-operator",
			"publicKey": strings.TrimSpace(c.SSHAuthorizedKey),
		})
		droplet["sshKeys"] = []string{automation.Ref("operatorKey.fingerprint")}
	}
	p.Add("droplet", "digitalocean:Droplet", droplet)

	base := "http://" + automation.Ref("droplet.ipv4Address")
	if c.Port != 80 {
		base += fmt.Sprintf(":%d", c.Port)
	}
	p.Outputs[engine.OutputURL] = base
	p.Outputs[engine.OutputAddress] = automation.Ref("droplet.ipv4Address")
	p.Outputs[engine.OutputResourceID] = automation.Ref("droplet.id")

	return in, nil
}

// InterpretOutputs implements Adapter.
func (a *VirtualMachineAdapter) InterpretOutputs(raw map[string]any) (*engine.DeploymentResult, error) {
	return interpret(a.Kind(), raw, engine.OutputURL, engine.OutputAddress, engine.OutputResourceID)
}

// runtimeInstallers maps a runtime to the shell that installs a version of it.
var runtimeInstallers = map[string]func(version string) string{
	"node": func(v string) string {
		return fmt.Sprintf("curl -fsSL https://deb.nodesource.com/setup_%s.x | bash -\napt-get install -y nodejs\n", v)
	},
	"python": func(string) string {
		return "apt-get install -y python3 python3-pip python3-venv\n"
	},
	"go": func(v string) string {
		return fmt.Sprintf("curl -fsSL https://go.dev/dl/go%s.linux-amd64.tar.gz | tar -C /usr/local -xz\n"+
			"ln -sf /usr/local/go/bin/go /usr/local/bin/go\n", v)
	},
	"ruby": func(string) string {
		return "apt-get install -y ruby-full build-essential\n"
	},
}

// BootstrapScript renders the instance user-data. It embeds the source token,
// so callers must treat the result as secret.
func BootstrapScript(cfg *engine.ProjectConfig) (string, error) {
	c := cfg.VirtualMachine
	install, ok := runtimeInstallers[c.Runtime]
	if !ok {
		return "", invalid(engine.ProviderVirtualMachine, "unsupported runtime %q", c.Runtime)
	}
	repoURL, err := cloneURL(cfg)
	if err != nil {
		return "", engine.NewConfigValidationError("invalid repository url", err)
	}

	root := vmAppDir
	if dir := strings.Trim(cfg.Settings.RootDir, "/"); dir != "" && dir != "." {
		root = vmAppDir + "/" + dir
	}
	unit := VMUnitName(cfg.Name)

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -euo pipefail\nexport DEBIAN_FRONTEND=noninteractive\n\n")
	b.WriteString("apt-get update -y\napt-get install -y git curl ca-certificates\n")
	b.WriteString(install(c.RuntimeVersion))
	b.WriteString("\n")

	// The credential file lives only for the duration of the clone.
	b.WriteString("umask 077\n")
	if cfg.SourceToken != "" {
		fmt.Fprintf(&b, "cat > %s <<'FROYO_CREDENTIALS'\n", vmCredentialFile)
		fmt.Fprintf(&b, "%s://x-access-token:%s@%s\n", repoURL.Scheme, cfg.SourceToken, repoURL.Host)
		b.WriteString("FROYO_CREDENTIALS\n")
		fmt.Fprintf(&b, "git -c credential.helper='store --file %s' clone --depth 1 --branch %s %s %s\n",
			vmCredentialFile, shellescape.Quote(cfg.Branch), shellescape.Quote(repoURL.String()), vmAppDir)
		fmt.Fprintf(&b, "rm -f %s\n", vmCredentialFile)
	} else {
		fmt.Fprintf(&b, "git clone --depth 1 --branch %s %s %s\n",
			shellescape.Quote(cfg.Branch), shellescape.Quote(repoURL.String()), vmAppDir)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "cat > %s/.env <<'FROYO_ENV'\n", vmAppDir)
	b.Write(workspace.RenderEnv(cfg.EnvVars, c.Port))
	b.WriteString("FROYO_ENV\n")
	fmt.Fprintf(&b, "chmod 600 %s/.env\n\n", vmAppDir)

	fmt.Fprintf(&b, "cd %s\n", root)
	if cfg.BuildCommand != "" {
		fmt.Fprintf(&b, "set -a; . %s/.env; set +a\n%s\n", vmAppDir, cfg.BuildCommand)
	}
	start := cfg.StartCommand
	if start == "" {
		start = engine.BuildDescriptor{Runtime: c.Runtime}.WithDefaults().StartCommand
	}
	fmt.Fprintf(&b, "cat > %s/froyo-start.sh <<'FROYO_START'\n#!/bin/bash\nset -a; . %s/.env; set +a\nexec %s\nFROYO_START\n",
		vmAppDir, vmAppDir, start)
	fmt.Fprintf(&b, "chmod 700 %s/froyo-start.sh\n\n", vmAppDir)

	fmt.Fprintf(&b, "cat > /etc/systemd/system/%s.service <<'FROYO_UNIT'\n", unit)
	fmt.Fprintf(&b, "[Unit]\nDescription=%s\nAfter=network-online.target\n\n", cfg.Name)
	// froyo-start.sh sources .env; systemd's EnvironmentFile parser reads
	// shell quoting differently.
	fmt.Fprintf(&b, "[Service]\nWorkingDirectory=%s\nExecStart=/bin/bash %s/froyo-start.sh\nRestart=always\n\n",
		root, vmAppDir)
	b.WriteString("[Install]\nWantedBy=multi-user.target\nFROYO_UNIT\n")
	fmt.Fprintf(&b, "systemctl daemon-reload\nsystemctl enable --now %s.service\n", unit)

	return b.String(), nil
}

// cloneURL turns the repository URL into an https clone URL.
func cloneURL(cfg *engine.ProjectConfig) (*url.URL, error) {
	raw := cfg.RepositoryURL
	host := ""
	if strings.HasPrefix(raw, "git@") {
		rest := strings.TrimPrefix(raw, "git@")
		i := strings.Index(rest, ":")
		if i <= 0 {
			return nil, fmt.Errorf("malformed scp-style url %q", raw)
		}
		host = rest[:i]
	} else {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if u.Host == "" {
			return nil, fmt.Errorf("repository url %q has no host", raw)
		}
		host = u.Host
	}
	return &url.URL{Scheme: "https", Host: host, Path: "/" + cfg.Owner + "/" + cfg.Repo + ".git"}, nil
}
