// Package environments manages the named environment records of the
// credential manager: tenant URL, API base URL, and the chosen auth mode,
// plus the single "active environment" selection. Records live in a YAML
// document; the secrets belonging to an environment live in the secret
// store and are removed together with the record.
package environments

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

// AuthMode selects which authentication protocol an environment uses.
type AuthMode string

const (
	// AuthModeOAuth is the relayed, human-in-the-loop authorization flow.
	AuthModeOAuth AuthMode = "oauth"

	// AuthModePAT is the machine-to-machine client-credentials flow.
	AuthModePAT AuthMode = "pat"
)

// ParseAuthMode validates a mode string from configuration or flags.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case AuthModeOAuth, AuthModePAT:
		return AuthMode(s), nil
	}

	return "", fmt.Errorf("unknown auth mode %q (oauth or pat): %w", s, errs.ErrConfiguration)
}

// Environment is a single registered tenant environment.
type Environment struct {
	Name      string
	TenantURL string
	BaseURL   string
	AuthMode  AuthMode
}

type environmentRecord struct {
	TenantURL string `yaml:"tenanturl"`
	BaseURL   string `yaml:"baseurl"`
	AuthType  string `yaml:"authtype"`
}

// document is the on-disk shape of the environments file. The top-level
// authtype mirrors the active environment's mode.
type document struct {
	AuthType          string                       `yaml:"authtype,omitempty"`
	ActiveEnvironment string                       `yaml:"activeenvironment,omitempty"`
	Environments      map[string]environmentRecord `yaml:"environments"`
}

// SecretDeleter is the slice of the secret store the registry needs for
// cascade deletion.
type SecretDeleter interface {
	DeleteAll(environment string) error
}

const (
	registryDirPerm  = fs.FileMode(0o700)
	registryFilePerm = fs.FileMode(0o600)
)

// Registry provides CRUD over environment records and active-environment
// selection, persisted as a YAML document.
type Registry struct {
	mu      sync.RWMutex
	path    string
	doc     document
	secrets SecretDeleter
}

// Load reads the registry document at path, creating an empty registry when
// the file does not exist yet. Deleting an environment cascades to secrets.
func Load(path string, secrets SecretDeleter) (*Registry, error) {
	r := &Registry{path: path, secrets: secrets}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the document from disk, replacing the in-memory state.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.doc = document{Environments: map[string]environmentRecord{}}
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading environments document: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing environments document: %w", err)
	}

	if doc.Environments == nil {
		doc.Environments = map[string]environmentRecord{}
	}

	r.doc = doc

	return nil
}

// save writes the document atomically: marshal to a temp file in the same
// directory, then rename over the target.
func (r *Registry) save() error {
	data, err := yaml.Marshal(&r.doc)
	if err != nil {
		return fmt.Errorf("marshalling environments document: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, registryDirPerm); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".environments-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing environments document: %w", err)
	}

	if err := tmp.Chmod(registryFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("setting document permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing environments document: %w", err)
	}

	return nil
}

// List returns all registered environments sorted by name.
func (r *Registry) List() []Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	envs := make([]Environment, 0, len(r.doc.Environments))
	for name, rec := range r.doc.Environments {
		envs = append(envs, Environment{
			Name:      name,
			TenantURL: rec.TenantURL,
			BaseURL:   rec.BaseURL,
			AuthMode:  AuthMode(rec.AuthType),
		})
	}

	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })

	return envs
}

// Get returns the environment registered under name.
func (r *Registry) Get(name string) (Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.doc.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("environment %q: %w", name, errs.ErrNotFound)
	}

	return Environment{
		Name:      name,
		TenantURL: rec.TenantURL,
		BaseURL:   rec.BaseURL,
		AuthMode:  AuthMode(rec.AuthType),
	}, nil
}

// CreateOrUpdate registers env. When allowOverwrite is false an existing
// record with the same name is an error.
func (r *Registry) CreateOrUpdate(env Environment, allowOverwrite bool) error {
	if err := validate(env); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.doc.Environments[env.Name]; taken && !allowOverwrite {
		return fmt.Errorf("environment %q: %w", env.Name, errs.ErrAlreadyExists)
	}

	r.doc.Environments[env.Name] = environmentRecord{
		TenantURL: env.TenantURL,
		BaseURL:   env.BaseURL,
		AuthType:  string(env.AuthMode),
	}

	// Keep the top-level mode mirror in step when the active record changes.
	if r.doc.ActiveEnvironment == env.Name {
		r.doc.AuthType = string(env.AuthMode)
	}

	return r.save()
}

// Delete removes the environment record and every secret stored under its
// namespace. Deleting the active environment clears the selection.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Environments[name]; !ok {
		return fmt.Errorf("environment %q: %w", name, errs.ErrNotFound)
	}

	delete(r.doc.Environments, name)

	if r.doc.ActiveEnvironment == name {
		r.doc.ActiveEnvironment = ""
		r.doc.AuthType = ""
	}

	if err := r.save(); err != nil {
		return err
	}

	if err := r.secrets.DeleteAll(name); err != nil {
		return fmt.Errorf("cascading secret deletion for %q: %w", name, err)
	}

	return nil
}

// SetActive marks name as the single active environment.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.doc.Environments[name]
	if !ok {
		return fmt.Errorf("environment %q: %w", name, errs.ErrNotFound)
	}

	r.doc.ActiveEnvironment = name
	r.doc.AuthType = rec.AuthType

	return r.save()
}

// Active returns the currently selected environment, if any.
func (r *Registry) Active() (Environment, bool) {
	r.mu.RLock()
	name := r.doc.ActiveEnvironment
	rec, ok := r.doc.Environments[name]
	r.mu.RUnlock()

	if name == "" || !ok {
		return Environment{}, false
	}

	return Environment{
		Name:      name,
		TenantURL: rec.TenantURL,
		BaseURL:   rec.BaseURL,
		AuthMode:  AuthMode(rec.AuthType),
	}, true
}

func validate(env Environment) error {
	if env.Name == "" {
		return fmt.Errorf("environment name is required: %w", errs.ErrConfiguration)
	}

	if env.TenantURL == "" || env.BaseURL == "" {
		return fmt.Errorf("environment %q needs both tenant and API base URLs: %w", env.Name, errs.ErrConfiguration)
	}

	if _, err := ParseAuthMode(string(env.AuthMode)); err != nil {
		return err
	}

	return nil
}
