package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/spf13/cobra"
)

var outputFile string
var keyBits int

func init() {
	keysCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file for the private key, the public key goes to <output>.pub (default is stdout)")
	keysCmd.Flags().IntVarP(&keyBits, "bits", "b", 4096, "RSA key size")
	rootCmd.AddCommand(keysCmd)
}

// keysCmd generates the operator keypair. Only the public key is deployed to the server.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the operator RSA keypair",
	Long:  "Generate the operator RSA keypair. Deploy the public key as operator.publicKeyPath and keep the private key offline.",
	Run: func(cmd *cobra.Command, args []string) {
		if keyBits < 2048 {
			check(errors.New("key size must be at least 2048 bits"))
		}
		priv, err := rsa.GenerateKey(rand.Reader, keyBits)
		check(err)
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		check(err)
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		pubPEM, err := util.EncodePublicKeyPEM(&priv.PublicKey)
		check(err)

		if outputFile == "" {
			fmt.Printf("\n%s\n%s\n", string(privPEM), string(pubPEM))
			return
		}
		// fail if a file already exists
		check(writeNew(outputFile, privPEM, 0600))
		check(writeNew(outputFile+".pub", pubPEM, 0644))
		fmt.Printf("Private key: %s\nPublic key: %s.pub\n", outputFile, outputFile)
	},
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("file already exists: %s", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
