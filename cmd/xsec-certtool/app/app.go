// Package app implements the xsec-certtool commands.
package app

import (
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"xsec-crypto/pkg/certstore"
	"xsec-crypto/pkg/config"
	"xsec-crypto/pkg/xsec"

	// backends
	_ "xsec-crypto/pkg/nativecrypto"
	_ "xsec-crypto/pkg/softcrypto"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	ConfigPath string
	Backend    string
	Verbosity  int

	cfg config.Config
	log logr.Logger
	out io.Writer
}

func (o *globalOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "xsec.yaml", "path to the YAML configuration")
	fs.StringVar(&o.Backend, "backend", "", "crypto backend (software|native); overrides the configuration")
	fs.IntVarP(&o.Verbosity, "verbosity", "v", 0, "log verbosity")
}

// Complete loads the configuration and sets up logging.
func (o *globalOptions) Complete(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	o.cfg = cfg
	o.out = cmd.OutOrStdout()

	std := log.New(cmd.ErrOrStderr(), "xsec-certtool: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	v := cfg.Log.Verbosity
	if cmd.Flags().Changed("verbosity") {
		v = o.Verbosity
	}
	stdr.SetVerbosity(v)
	o.log = stdr.New(std)
	return nil
}

// provider initializes the configured backend. Callers must call
// xsec.Shutdown when done.
func (o *globalOptions) provider() (xsec.Provider, error) {
	opts := o.cfg.ProviderOptions()
	opts.Logger = o.log
	p, err := xsec.Initialize(o.cfg.Backend, opts)
	if err != nil {
		return nil, err
	}
	o.log.V(1).Info("using crypto provider", "backend", o.cfg.Backend, "provider", p.Name())
	return p, nil
}

func (o *globalOptions) store() (certstore.Store, error) {
	s, err := certstore.Open(o.cfg.Store.Driver, o.cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	o.log.V(1).Info("certificate store open", "driver", o.cfg.Store.Driver)
	return s, nil
}

// NewCommand builds the root command.
func NewCommand() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "xsec-certtool",
		Short:         "inspect, store and verify with X.509 certificates through the xsec crypto layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.Complete(cmd)
		},
	}
	g.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newInspectCommand(g))
	cmd.AddCommand(newImportCommand(g))
	cmd.AddCommand(newListCommand(g))
	cmd.AddCommand(newExportCommand(g))
	cmd.AddCommand(newVerifyCommand(g))
	return cmd
}

// Execute runs the root command and reports the error on stderr.
func Execute() int {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// readCertificate returns the Base64 DER body of a PEM or Base64 file.
func readCertificate(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%s: PEM block is %q, want CERTIFICATE", path, block.Type)
		}
		return xsec.EncodeBase64(block.Bytes), nil
	}
	return raw, nil
}

// loadCertificate creates a certificate on p from b64.
func loadCertificate(p xsec.Provider, b64 []byte) (xsec.X509, error) {
	c, err := p.NewX509()
	if err != nil {
		return nil, err
	}
	if err := c.LoadBase64(b64, len(b64)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
