package speech

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/hazyhaar/agrivoice/horosafe"
	"github.com/hazyhaar/agrivoice/idgen"
)

// Ext is the extension of every artifact.
const Ext = ".mp3"

// ArtifactStore keeps audio files flat in one directory of an afero.Fs.
type ArtifactStore struct {
	fs     afero.Fs
	dir    string
	now    func() time.Time
	suffix idgen.Generator
}

// NewArtifactStore creates the directory if needed.
func NewArtifactStore(fs afero.Fs, dir string) (*ArtifactStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speech: mkdir %s: %w", dir, err)
	}
	return &ArtifactStore{fs: fs, dir: dir, now: time.Now, suffix: idgen.NanoID(6)}, nil
}

// Dir returns the artifact directory.
func (s *ArtifactStore) Dir() string { return s.dir }

// Write stores data as "<prefix>_<YYYYMMDDHHMMSS>_<suffix>.mp3". The file is
// written under a temp name and renamed so readers never see partial audio.
func (s *ArtifactStore) Write(prefix string, data []byte) (*Artifact, error) {
	name := fmt.Sprintf("%s_%s_%s%s", prefix, s.now().Format("20060102150405"), s.suffix(), Ext)
	if err := horosafe.ValidateArtifactName(name, Ext); err != nil {
		return nil, fmt.Errorf("speech: artifact name: %w", err)
	}
	final := path.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("speech: write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("speech: rename %s: %w", name, err)
	}
	return &Artifact{Name: name, Size: int64(len(data))}, nil
}

// Open returns the named artifact for reading. Names that escape the
// directory are refused.
func (s *ArtifactStore) Open(name string) (afero.File, error) {
	if err := horosafe.ValidateArtifactName(name, Ext); err != nil {
		return nil, err
	}
	return s.fs.Open(path.Join(s.dir, name))
}

// Exists reports whether the named artifact is present.
func (s *ArtifactStore) Exists(name string) bool {
	if horosafe.ValidateArtifactName(name, Ext) != nil {
		return false
	}
	fi, err := s.fs.Stat(path.Join(s.dir, name))
	return err == nil && !fi.IsDir()
}

// List returns all artifacts, newest first by modification time.
func (s *ArtifactStore) List() ([]Artifact, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("speech: list: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime().Equal(infos[j].ModTime()) {
			return infos[i].ModTime().After(infos[j].ModTime())
		}
		return infos[i].Name() > infos[j].Name()
	})
	out := make([]Artifact, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), Ext) {
			continue
		}
		out = append(out, Artifact{Name: fi.Name(), Size: fi.Size()})
	}
	return out, nil
}

// OSFs returns the afero backend for a real directory.
func OSFs() afero.Fs { return afero.NewOsFs() }
