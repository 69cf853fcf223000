// Package dossier loads financing dossiers and their uploaded documents.
package dossier

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// ManifestFile is the dossier description inside each dossier directory.
const ManifestFile = "dossier.yaml"

// ErrNotFound is returned when no dossier exists for an id.
var ErrNotFound = eris.New("dossier: not found")

// Source loads dossiers by id.
type Source interface {
	Load(ctx context.Context, id string) (*model.Dossier, error)
}

// manifest is the on-disk shape of a dossier.
type manifest struct {
	model.Dossier   `yaml:",inline"`
	RequestedAmount string         `yaml:"requested_amount"`
	Questionnaire   *questionnaire `yaml:"questionnaire"`
}

type questionnaire struct {
	Status    model.QuestionnaireStatus `yaml:"status"`
	Responses model.Responses           `yaml:"responses"`
}

// FileSource reads dossiers laid out as <root>/<id>/dossier.yaml with the
// documents next to the manifest.
type FileSource struct {
	root string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{root: dir}
}

// Load reads the manifest of dossier id and the bytes of every document.
func (s *FileSource) Load(ctx context.Context, id string) (*model.Dossier, error) {
	if id == "" || !filepath.IsLocal(id) || strings.ContainsAny(id, `/\`) {
		return nil, eris.Errorf("dossier: invalid id %q", id)
	}
	dir := filepath.Join(s.root, id)

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "dossier: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dossier: read manifest %s", id)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "dossier: parse manifest %s", id)
	}

	d := m.Dossier
	if d.ID == "" {
		d.ID = id
	}
	if d.ID != id {
		return nil, eris.Errorf("dossier: manifest id %q does not match %q", d.ID, id)
	}
	if m.RequestedAmount != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(m.RequestedAmount, " ", ""))
		if err != nil {
			return nil, eris.Wrapf(err, "dossier: requested amount of %s", id)
		}
		d.RequestedAmount = amount
	}
	if m.Questionnaire != nil {
		status := m.Questionnaire.Status
		if status == "" {
			status = model.QuestionnaireDraft
		}
		responses := m.Questionnaire.Responses
		if responses == nil {
			responses = model.Responses{}
		}
		d.Questionnaire = &model.QuestionnaireResponse{DossierID: d.ID, Status: status, Responses: responses}
	}

	for i := range d.Documents {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dossier: load cancelled")
		}
		doc := &d.Documents[i]
		doc.DossierID = d.ID
		if !doc.Type.Valid() {
			return nil, eris.Errorf("dossier: document %s has unknown type %q", doc.ID, doc.Type)
		}
		if doc.Filename == "" || !filepath.IsLocal(doc.Filename) {
			return nil, eris.Errorf("dossier: document %s has invalid file %q", doc.ID, doc.Filename)
		}
		content, err := os.ReadFile(filepath.Join(dir, doc.Filename))
		if err != nil {
			return nil, eris.Wrapf(err, "dossier: read document %s", doc.ID)
		}
		doc.Content = content
	}
	return &d, nil
}
