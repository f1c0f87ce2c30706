// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package reply

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultMessages []byte

// Catalog holds the texts of all replies.
type Catalog struct {
	Start            string    `yaml:"start"`
	Help             string    `yaml:"help"`
	Delima           string    `yaml:"delima"`
	DelimaButton     string    `yaml:"delima_button"`
	DelimaURL        string    `yaml:"delima_url"`
	AINS             string    `yaml:"ains"`
	AINSButton       string    `yaml:"ains_button"`
	AINSURL          string    `yaml:"ains_url"`
	ResetPassword    string    `yaml:"reset_password"`
	PasswordGuidance string    `yaml:"password_guidance"`
	Status           string    `yaml:"status"`
	Found            string    `yaml:"found"`
	NotFound         string    `yaml:"not_found"`
	Unavailable      string    `yaml:"unavailable"`
	Apology          string    `yaml:"apology"`
	Commands         []Command `yaml:"commands"`

	status *template.Template
	found  *template.Template
}

// Command is an entry of the bot's command menu.
type Command struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := parseCatalog()
	if err != nil {
		panic(fmt.Sprintf("reply: built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog returns the built-in catalog with fields overridden by the
// YAML file at path. Fields missing from the file keep their built-in texts.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := parseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func parseCatalog(overrides ...[]byte) (*Catalog, error) {
	c := new(Catalog)
	for _, b := range append([][]byte{defaultMessages}, overrides...) {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	var err error
	if c.status, err = parseTemplate("status", c.Status); err != nil {
		return nil, err
	}
	if c.found, err = parseTemplate("found", c.Found); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	for _, m := range []struct{ name, text string }{
		{"start", c.Start},
		{"help", c.Help},
		{"delima", c.Delima},
		{"ains", c.AINS},
		{"reset_password", c.ResetPassword},
		{"password_guidance", c.PasswordGuidance},
		{"status", c.Status},
		{"found", c.Found},
		{"not_found", c.NotFound},
		{"unavailable", c.Unavailable},
		{"apology", c.Apology},
	} {
		if strings.TrimSpace(m.text) == "" {
			errs = append(errs, fmt.Errorf("message %q is empty", m.name))
		}
	}
	return errors.Join(errs...)
}

var funcs = template.FuncMap{"md": EscapeMarkdown}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %q template: %w", name, err)
	}
	return tmpl, nil
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown escapes s for Telegram's legacy Markdown parse mode.
func EscapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
