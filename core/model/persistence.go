package model

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/flowml/flowml/pkg/errors"
)

// Artifact file names within a model directory. A saved model is always the
// pair: a gob-encoded model blob plus a JSON metadata document describing
// name, task, hyperparameters and training provenance.
const (
	ModelFileName    = "model.gob"
	MetadataFileName = "metadata.json"
)

// SaveArtifacts writes the model blob and its metadata document into dir,
// creating the directory if absent. The write is performed only by callers
// that have fully completed training, so an external cancellation between
// workflow nodes never observes a partially written artifact pair.
func SaveArtifacts(dir string, model interface{}, metadata interface{}) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create model directory %s", dir)
	}

	f, err := os.Create(filepath.Join(dir, ModelFileName))
	if err != nil {
		return errors.Wrap(err, "failed to create model file")
	}
	defer f.Close()
	if err := SaveModelToWriter(model, f); err != nil {
		return err
	}

	doc, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal model metadata")
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), doc, 0o644); err != nil {
		return errors.Wrap(err, "failed to write model metadata")
	}
	return nil
}

// LoadArtifacts reads the model blob into model and the metadata document
// into metadata. Both arguments must be pointers.
func LoadArtifacts(dir string, model interface{}, metadata interface{}) error {
	f, err := os.Open(filepath.Join(dir, ModelFileName))
	if err != nil {
		return errors.Wrapf(err, "failed to open model file in %s", dir)
	}
	defer f.Close()
	if err := LoadModelFromReader(model, f); err != nil {
		return err
	}
	return ReadMetadata(dir, metadata)
}

// ReadMetadata reads only the metadata document from dir. Load paths use it
// to decide which concrete family to reconstruct before decoding the blob.
// Numbers decode as json.Number so hyperparameter values keep their literal
// form until the trainer coerces them back to int or float64.
func ReadMetadata(dir string, metadata interface{}) error {
	doc, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		return errors.Wrapf(err, "failed to read model metadata in %s", dir)
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	return errors.Wrap(dec.Decode(metadata), "failed to unmarshal model metadata")
}

// SaveModelToWriter gob-encodes a model to w.
func SaveModelToWriter(model interface{}, w io.Writer) error {
	return errors.Wrap(gob.NewEncoder(w).Encode(model), "failed to encode model")
}

// LoadModelFromReader gob-decodes a model from r.
func LoadModelFromReader(model interface{}, r io.Reader) error {
	return errors.Wrap(gob.NewDecoder(r).Decode(model), "failed to decode model")
}
