package keyring

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/xencat/bridge-verifier/types"
)

const (
	keyFileExt = ".key"

	StandardScryptN = 1 << 18
	StandardScryptP = 1
	LightScryptN    = 1 << 12
	LightScryptP    = 6
	scryptR         = 8
	scryptKeyLen    = 32
	saltSize        = 32
	nonceSize       = 24
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrKeyExists       = errors.New("key already exists")
	ErrWrongPassphrase = errors.New("could not decrypt key with the given passphrase")
)

// KeyInfo describes a validator key. Mnemonic is only set right after
// creation.
type KeyInfo struct {
	Name      string          `json:"name"`
	PublicKey types.PublicKey `json:"public_key"`
	Mnemonic  string          `json:"mnemonic,omitempty"`
}

type keyFile struct {
	Name       string          `json:"name"`
	PublicKey  types.PublicKey `json:"public_key"`
	ScryptN    int             `json:"scrypt_n"`
	ScryptP    int             `json:"scrypt_p"`
	Salt       []byte          `json:"salt"`
	Nonce      []byte          `json:"nonce"`
	Ciphertext []byte          `json:"ciphertext"`
}

// KeyringController keeps passphrase encrypted Ed25519 validator keys, one
// file per key name.
type KeyringController struct {
	keyDir  string
	name    string
	scryptN int
	scryptP int
}

func NewKeyringController(keyDir, name string) (*KeyringController, error) {
	if name == "" {
		return nil, fmt.Errorf("the key name should not be empty")
	}
	if keyDir == "" {
		return nil, fmt.Errorf("the key directory should not be empty")
	}

	return &KeyringController{
		keyDir:  keyDir,
		name:    name,
		scryptN: StandardScryptN,
		scryptP: StandardScryptP,
	}, nil
}

// UseLightScrypt trades key file strength for speed.
func (kc *KeyringController) UseLightScrypt() {
	kc.scryptN = LightScryptN
	kc.scryptP = LightScryptP
}

func (kc *KeyringController) path() string {
	return filepath.Join(kc.keyDir, kc.name+keyFileExt)
}

// CreateKey derives a key from the mnemonic, or from a new one if empty, and
// stores it encrypted with the passphrase.
func (kc *KeyringController) CreateKey(passphrase, mnemonic string) (*KeyInfo, error) {
	if _, err := os.Stat(kc.path()); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, kc.name)
	}

	if len(mnemonic) == 0 {
		var err error
		mnemonic, err = NewMnemonic()
		if err != nil {
			return nil, err
		}
	}

	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	sk := ed25519.PrivKey(stded25519.NewKeyFromSeed(seed))
	pk, err := types.NewPublicKey(sk.PubKey().Bytes())
	if err != nil {
		return nil, err
	}

	kf, err := kc.seal(seed, pk, passphrase)
	if err != nil {
		return nil, err
	}
	if err := writeKeyFile(kc.path(), kf); err != nil {
		return nil, err
	}

	return &KeyInfo{
		Name:      kc.name,
		PublicKey: pk,
		Mnemonic:  mnemonic,
	}, nil
}

func (kc *KeyringController) seal(seed []byte, pk types.PublicKey, passphrase string) (*keyFile, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt, kc.scryptN, kc.scryptP)
	if err != nil {
		return nil, err
	}

	return &keyFile{
		Name:       kc.name,
		PublicKey:  pk,
		ScryptN:    kc.scryptN,
		ScryptP:    kc.scryptP,
		Salt:       salt,
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, seed, &nonce, key),
	}, nil
}

// PublicKey reads the public key without the passphrase.
func (kc *KeyringController) PublicKey() (types.PublicKey, error) {
	kf, err := kc.readKeyFile()
	if err != nil {
		return types.PublicKey{}, err
	}
	return kf.PublicKey, nil
}

// Signer decrypts the key with the passphrase.
func (kc *KeyringController) Signer(passphrase string) (*Signer, error) {
	kf, err := kc.readKeyFile()
	if err != nil {
		return nil, err
	}
	if len(kf.Nonce) != nonceSize {
		return nil, fmt.Errorf("corrupted key file %s", kc.path())
	}

	key, err := deriveKey(passphrase, kf.Salt, kf.ScryptN, kf.ScryptP)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], kf.Nonce)

	seed, ok := secretbox.Open(nil, kf.Ciphertext, &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	if len(seed) != seedSize {
		return nil, fmt.Errorf("corrupted key file %s", kc.path())
	}

	sk := ed25519.PrivKey(stded25519.NewKeyFromSeed(seed))
	if !sk.PubKey().Equals(ed25519.PubKey(kf.PublicKey[:])) {
		return nil, fmt.Errorf("key file %s holds a key of another identity", kc.path())
	}

	return &Signer{sk: sk, pk: kf.PublicKey}, nil
}

func (kc *KeyringController) readKeyFile() (*keyFile, error) {
	data, err := os.ReadFile(kc.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kc.name)
		}
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", kc.path(), err)
	}
	return &kf, nil
}

func deriveKey(passphrase string, salt []byte, n, p int) (*[scryptKeyLen]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, n, scryptR, p, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	var key [scryptKeyLen]byte
	copy(key[:], derived)
	return &key, nil
}

func writeKeyFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	// the key file appears atomically
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Signer signs with a decrypted validator key.
type Signer struct {
	sk ed25519.PrivKey
	pk types.PublicKey
}

var _ types.Signer = (*Signer)(nil)

func (s *Signer) PublicKey() types.PublicKey {
	return s.pk
}

func (s *Signer) Sign(msg []byte) (types.Signature, error) {
	sig, err := s.sk.Sign(msg)
	if err != nil {
		return types.Signature{}, err
	}
	return types.NewSignature(sig)
}
