package app

import (
	"crypto"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"xsec-crypto/pkg/certstore"
	"xsec-crypto/pkg/report"
	"xsec-crypto/pkg/xsec"
)

// ErrInvalidSignature is returned by verify for a signature that does not
// match, so the process exits non-zero.
var ErrInvalidSignature = errors.New("signature is not valid")

func newInspectCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "show the key of a PEM or Base64 certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b64, err := readCertificate(args[0])
			if err != nil {
				return err
			}
			p, err := g.provider()
			if err != nil {
				return err
			}
			defer xsec.Shutdown()
			c, err := loadCertificate(p, b64)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Fprintf(g.out, "fingerprint: %s\n", certstore.Fingerprint(c.DEREncoding()))
			fmt.Fprintf(g.out, "provider:    %s\n", c.ProviderName())
			fmt.Fprintf(g.out, "der bytes:   %d\n", len(c.DEREncoding()))
			kt, err := c.PublicKeyType()
			if err != nil {
				fmt.Fprintf(g.out, "key type:    %s (%v)\n", xsec.KeyTypeUnknown, err)
				return nil
			}
			key, err := c.ClonePublicKey()
			if err != nil {
				return err
			}
			defer key.Close()
			raw, err := key.Public()
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "key type:    %s\n", kt)
			fmt.Fprintf(g.out, "key bits:    %d\n", keyBits(raw))
			return nil
		},
	}
}

func keyBits(raw xsec.RawKey) int {
	switch v := raw.(type) {
	case xsec.RSAKeyValue:
		return new(big.Int).SetBytes(v.Modulus).BitLen()
	case xsec.DSAKeyValue:
		return new(big.Int).SetBytes(v.P).BitLen()
	}
	return 0
}

type importOptions struct {
	Label string
}

func (o *importOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Label, "label", "", "label stored with the certificate")
}

func newImportCommand(g *globalOptions) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "store a certificate by fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b64, err := readCertificate(args[0])
			if err != nil {
				return err
			}
			p, err := g.provider()
			if err != nil {
				return err
			}
			defer xsec.Shutdown()
			c, err := loadCertificate(p, b64)
			if err != nil {
				return err
			}
			defer c.Close()
			rec, err := certstore.NewRecord(c, opts.Label)
			if err != nil {
				return err
			}
			s, err := g.store()
			if err != nil {
				return err
			}
			defer s.Close()
			stored, err := s.Put(rec)
			if err != nil {
				return err
			}
			g.log.Info("certificate stored", "fingerprint", stored.Fingerprint, "id", stored.ID.String())
			fmt.Fprintln(g.out, stored.Fingerprint)
			return nil
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func newListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.store()
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tLABEL\tKEY\tPROVIDER\tADDED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Fingerprint, r.Label, r.KeyType, r.Provider, r.AddedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

type exportOptions struct {
	Out    string
	Format string
}

func (o *exportOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Out, "out", "", "output file")
	fs.StringVar(&o.Format, "format", "", "xlsx or html; defaults to the --out extension")
}

func (o *exportOptions) Complete() error {
	if o.Out == "" {
		return errors.New("--out is required")
	}
	if o.Format == "" {
		o.Format = "xlsx"
		if strings.HasSuffix(strings.ToLower(o.Out), ".html") {
			o.Format = "html"
		}
	}
	if o.Format != "xlsx" && o.Format != "html" {
		return fmt.Errorf("unknown format %q", o.Format)
	}
	return nil
}

func newExportCommand(g *globalOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export --out FILE",
		Short: "write the certificate inventory as XLSX or HTML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(); err != nil {
				return err
			}
			s, err := g.store()
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.List()
			if err != nil {
				return err
			}
			var data []byte
			if opts.Format == "html" {
				page, err := report.HTML(recs)
				if err != nil {
					return err
				}
				data = []byte(page)
			} else if data, err = report.Inventory(recs); err != nil {
				return err
			}
			if err := os.WriteFile(opts.Out, data, 0o644); err != nil {
				return err
			}
			g.log.Info("inventory written", "path", opts.Out, "records", len(recs))
			return nil
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

var hashes = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

type verifyOptions struct {
	Cert   string
	Digest string
	Sig    string
	Hash   string
	PSS    bool

	digest []byte
	sig    []byte
	opts   crypto.SignerOpts
}

func (o *verifyOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Cert, "cert", "", "certificate file, or fingerprint of a stored certificate")
	fs.StringVar(&o.Digest, "digest", "", "hex digest of the signed data")
	fs.StringVar(&o.Sig, "sig", "", "Base64 signature value")
	fs.StringVar(&o.Hash, "hash", "sha256", "digest algorithm (sha1|sha256|sha384|sha512)")
	fs.BoolVar(&o.PSS, "pss", false, "RSA signature uses PSS padding")
}

func (o *verifyOptions) Complete() error {
	if o.Cert == "" || o.Digest == "" || o.Sig == "" {
		return errors.New("--cert, --digest and --sig are required")
	}
	h, ok := hashes[strings.ToLower(o.Hash)]
	if !ok {
		return fmt.Errorf("unknown hash %q", o.Hash)
	}
	var err error
	if o.digest, err = hex.DecodeString(o.Digest); err != nil {
		return fmt.Errorf("--digest: %w", err)
	}
	if o.sig, err = xsec.DecodeBase64([]byte(o.Sig), len(o.Sig)); err != nil {
		return fmt.Errorf("--sig: %w", err)
	}
	o.opts = h
	if o.PSS {
		o.opts = &rsa.PSSOptions{Hash: h, SaltLength: rsa.PSSSaltLengthAuto}
	}
	return nil
}

// certificate resolves --cert as a file first, then as a stored fingerprint.
func (o *verifyOptions) certificate(g *globalOptions) ([]byte, error) {
	if _, err := os.Stat(o.Cert); err == nil {
		return readCertificate(o.Cert)
	}
	s, err := g.store()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	rec, err := s.Get(o.Cert)
	if err != nil {
		return nil, err
	}
	return xsec.EncodeBase64(rec.DER), nil
}

func newVerifyCommand(g *globalOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify --cert FP|FILE --digest HEX --sig B64",
		Short: "verify a signature with the key of a certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(); err != nil {
				return err
			}
			b64, err := opts.certificate(g)
			if err != nil {
				return err
			}
			p, err := g.provider()
			if err != nil {
				return err
			}
			defer xsec.Shutdown()
			c, err := loadCertificate(p, b64)
			if err != nil {
				return err
			}
			defer c.Close()
			key, err := c.ClonePublicKey()
			if err != nil {
				return err
			}
			defer key.Close()
			ok, err := key.Verify(opts.digest, opts.sig, opts.opts)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(g.out, "invalid")
				return ErrInvalidSignature
			}
			fmt.Fprintln(g.out, "valid")
			return nil
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}
