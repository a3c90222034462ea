package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/cert"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/command"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("cert",
		newGenCmd(),
		newVerifyCmd(),
	)
}

func newGenCmd() *cobra.Command {
	var (
		outDir    string
		hostnames []string
		parties   []string
	)

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate development certificates (CA, Redis server, one client per party)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateCerts(outDir, hostnames, parties)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "certs", "Output directory for certificates")
	cmd.Flags().StringSliceVar(&hostnames, "host", []string{"localhost", "127.0.0.1", "redis"}, "Hostnames/IPs for the Redis server certificate")
	cmd.Flags().StringSliceVar(&parties, "party", []string{"a", "b", "c"}, "Party ids to issue client certificates for")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	var certFile, keyFile, caFile string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a certificate matches its key and chains to the CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cert.VerifyTLSConfig(certFile, keyFile, caFile); err != nil {
				return err
			}
			log.Info().Str("cert", certFile).Msg("Certificate is valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&certFile, "cert", "certs/party-a.crt", "Certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "certs/party-a.key", "Key file")
	cmd.Flags().StringVar(&caFile, "ca", "certs/ca.crt", "CA certificate file")

	return cmd
}

func generateCerts(outDir string, hostnames []string, parties []string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	log.Info().Msg("Generating CA certificate...")
	caPriv, caCert, caPEM, caPrivPEM, err := generateCA()
	if err != nil {
		return err
	}
	if err := writePair(outDir, "ca", caPEM, caPrivPEM); err != nil {
		return err
	}

	log.Info().Strs("hosts", hostnames).Msg("Generating Redis server certificate...")
	serverPEM, serverPrivPEM, err := generateEntityCert("signer-redis", hostnames, caCert, caPriv, true)
	if err != nil {
		return err
	}
	if err := writePair(outDir, "redis", serverPEM, serverPrivPEM); err != nil {
		return err
	}

	for _, party := range parties {
		log.Info().Str("party_id", party).Msg("Generating party client certificate...")
		clientPEM, clientPrivPEM, err := generateEntityCert("signer-party-"+party, nil, caCert, caPriv, false)
		if err != nil {
			return err
		}
		if err := writePair(outDir, "party-"+party, clientPEM, clientPrivPEM); err != nil {
			return err
		}
	}

	log.Info().Str("dir", outDir).Msg("Certificates generated successfully")
	return nil
}

func writePair(dir string, name string, certPEM []byte, keyPEM []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s certificate", name)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s key", name)
	}
	return nil
}

func generateCA() (*rsa.PrivateKey, *x509.Certificate, []byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Block Hash Signer"},
			CommonName:   "Block Hash Signer Dev CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour * 10), // 10 years
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return priv, template, certPEM, privPEM, nil
}

func generateEntityCert(cn string, hosts []string, caCert *x509.Certificate, caKey *rsa.PrivateKey, isServer bool) ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Block Hash Signer"},
			CommonName:   cn,
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour), // 1 year
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	if isServer {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, caCert, &priv.PublicKey, caKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return certPEM, privPEM, nil
}
