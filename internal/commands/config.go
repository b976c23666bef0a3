package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Initialize configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitConfig,
}

var initForce bool

func init() {
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

const defaultConfig = `# fastvm configuration

server:
  host: 0.0.0.0
  port: 8000
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

storage:
  data_dir: ./data
  min_free_gb: 10

hypervisor:
  binary: qemu-system-x86_64
  img_binary: qemu-img
  accel: kvm
  machine: q35
  ovmf_code: /usr/share/OVMF/OVMF_CODE.fd
  ovmf_vars: /usr/share/OVMF/OVMF_VARS.fd
  swtpm_binary: swtpm
  grace_period: 5s
  kill_timeout: 5s
  probe_timeout: 10s
  stop_on_exit: false

console:
  spice_port_min: 5930
  spice_port_max: 5999
  vnc_port_min: 5900
  vnc_port_max: 5929
  dial_attempts: 3
  dial_timeout: 5s
  write_timeout: 10s
  cleanup_timeout: 2s

telemetry:
  interval: 5s
  capacity: 120
  max_push_failures: 3
  history_retention: 24h
  cleanup_interval: 1h

maintenance:
  integrity_interval: 6h
  auto_repair: false

logging:
  level: info
  format: json
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
	return nil
}
