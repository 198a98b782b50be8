package solver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/pokercfr/internal/fileutil"
	"github.com/lox/pokercfr/internal/randutil"
)

const checkpointFormatVersion = 1

var (
	// ErrIncompleteCheckpoint is returned when a manifest names an artifact
	// that is missing or does not match its recorded digest.
	ErrIncompleteCheckpoint = errors.New("incomplete checkpoint")
	// ErrNoCheckpoint is returned when a directory holds no complete
	// checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

var checkpointPattern = regexp.MustCompile(`^checkpoint_iter(\d+)_t(\d+)s$`)

// CheckpointDir is where checkpoints live below a run's output directory.
func CheckpointDir(outputDir string) string { return filepath.Join(outputDir, "checkpoints") }

// SnapshotDir is where snapshots live below a run's output directory.
func SnapshotDir(outputDir string) string { return filepath.Join(outputDir, "snapshots") }

func checkpointBase(iteration int64, elapsed time.Duration) string {
	return fmt.Sprintf("checkpoint_iter%d_t%ds", iteration, int64(elapsed/time.Second))
}

// CheckpointMetadata is the JSON sidecar of a checkpoint.
type CheckpointMetadata struct {
	Version          int            `json:"version"`
	Iteration        int64          `json:"iteration"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	Epsilon          float64        `json:"epsilon"`
	RegretDiscount   float64        `json:"regret_discount"`
	NegativeDiscount float64        `json:"negative_discount"`
	StrategyDiscount float64        `json:"strategy_discount"`
	RNGState         []byte         `json:"rng_state"`
	BucketHash       string         `json:"bucket_hash"`
	Seed             int64          `json:"seed"`
	Infosets         int            `json:"infosets"`
	Config           TrainingConfig `json:"config"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ArtifactRef names one file of a checkpoint set and its digest.
type ArtifactRef struct {
	Name string `json:"name"`
	fileutil.Digest
}

// Manifest is written last and is the only record of a complete checkpoint.
type Manifest struct {
	Version        int         `json:"version"`
	Iteration      int64       `json:"iteration"`
	ElapsedSeconds int64       `json:"elapsed_seconds"`
	Main           ArtifactRef `json:"main"`
	Regrets        ArtifactRef `json:"regrets"`
	Metadata       ArtifactRef `json:"metadata"`
}

func (m Manifest) artifacts() []ArtifactRef {
	return []ArtifactRef{m.Main, m.Regrets, m.Metadata}
}

// trainerArtifact is the main checkpoint file: trainer position plus the
// average policy at that point.
type trainerArtifact struct {
	Version   int
	Iteration int64
	Policy    policyFile
}

// SaveCheckpoint writes a complete checkpoint set into dir and returns the
// manifest path. Artifacts are written first, the manifest last, so a crash
// never leaves a manifest pointing at partial files.
func (t *Trainer) SaveCheckpoint(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	elapsed := t.Elapsed()
	base := checkpointBase(t.iteration, elapsed)
	rngState, err := randutil.State(t.src)
	if err != nil {
		return "", fmt.Errorf("capture rng state: %w", err)
	}

	regretsName := base + "_regrets.pkl"
	regretsDigest, err := fileutil.WriteGobAtomic(filepath.Join(dir, regretsName), t.regrets.Snapshot())
	if err != nil {
		return "", fmt.Errorf("write regrets: %w", err)
	}

	mainName := base + ".pkl"
	mainDigest, err := fileutil.WriteGobAtomic(filepath.Join(dir, mainName), trainerArtifact{
		Version:   checkpointFormatVersion,
		Iteration: t.iteration,
		Policy:    t.Policy().file(),
	})
	if err != nil {
		return "", fmt.Errorf("write main artifact: %w", err)
	}

	metaName := base + "_metadata.json"
	metaDigest, err := fileutil.WriteJSONAtomic(filepath.Join(dir, metaName), CheckpointMetadata{
		Version:          checkpointFormatVersion,
		Iteration:        t.iteration,
		ElapsedSeconds:   elapsed.Seconds(),
		Epsilon:          t.epsilon,
		RegretDiscount:   t.discount.Positive,
		NegativeDiscount: t.discount.Negative,
		StrategyDiscount: t.discount.Strategy,
		RNGState:         rngState,
		BucketHash:       t.buckets.Hash(),
		Seed:             t.cfg.Seed,
		Infosets:         t.regrets.Len(),
		Config:           t.cfg,
		CreatedAt:        t.clock.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}

	manifestPath := filepath.Join(dir, base)
	if _, err := fileutil.WriteJSONAtomic(manifestPath, Manifest{
		Version:        checkpointFormatVersion,
		Iteration:      t.iteration,
		ElapsedSeconds: int64(elapsed / time.Second),
		Main:           ArtifactRef{Name: mainName, Digest: mainDigest},
		Regrets:        ArtifactRef{Name: regretsName, Digest: regretsDigest},
		Metadata:       ArtifactRef{Name: metaName, Digest: metaDigest},
	}); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	t.logger.Debug().
		Str("regrets", humanize.Bytes(uint64(regretsDigest.Size))).
		Str("policy", humanize.Bytes(uint64(mainDigest.Size))).
		Msg("Checkpoint artifacts")

	if keep := t.cfg.KeepCheckpoints; keep > 0 {
		if err := pruneCheckpoints(dir, keep); err != nil {
			t.logger.Warn().Err(err).Msg("Checkpoint retention failed")
		}
	}
	return manifestPath, nil
}

// ReadManifest loads the manifest at path and verifies every artifact it
// names.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	if err := fileutil.ReadJSON(path, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrIncompleteCheckpoint, err)
	}
	if m.Version != checkpointFormatVersion {
		return m, fmt.Errorf("unsupported checkpoint version %d", m.Version)
	}
	dir := filepath.Dir(path)
	for _, a := range m.artifacts() {
		if a.Name == "" {
			return m, fmt.Errorf("%w: manifest %s names an empty artifact", ErrIncompleteCheckpoint, filepath.Base(path))
		}
		got, err := fileutil.FileDigest(filepath.Join(dir, a.Name))
		if err != nil {
			return m, fmt.Errorf("%w: %s: %v", ErrIncompleteCheckpoint, a.Name, err)
		}
		if got != a.Digest {
			return m, fmt.Errorf("%w: %s does not match its manifest digest", ErrIncompleteCheckpoint, a.Name)
		}
	}
	return m, nil
}

type checkpointEntry struct {
	path      string
	iteration int64
	seconds   int64
}

// listCheckpoints returns the manifests in dir, oldest first. Only manifest
// names are candidates; artifacts never match.
func listCheckpoints(dir string) ([]checkpointEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []checkpointEntry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := checkpointPattern.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		iter, err1 := strconv.ParseInt(m[1], 10, 64)
		secs, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, checkpointEntry{path: filepath.Join(dir, f.Name()), iteration: iter, seconds: secs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].iteration != out[j].iteration {
			return out[i].iteration < out[j].iteration
		}
		return out[i].seconds < out[j].seconds
	})
	return out, nil
}

// LatestCheckpoint returns the manifest of the highest-iteration complete
// checkpoint in dir. Incomplete sets are skipped.
func LatestCheckpoint(dir string) (string, error) {
	entries, err := listCheckpoints(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
		}
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if _, err := ReadManifest(entries[i].path); err == nil {
			return entries[i].path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
}

func pruneCheckpoints(dir string, keep int) error {
	entries, err := listCheckpoints(dir)
	if err != nil {
		return err
	}
	var complete []checkpointEntry
	for _, e := range entries {
		if _, err := ReadManifest(e.path); err == nil {
			complete = append(complete, e)
		}
	}
	var errs []error
	for len(complete) > keep {
		e := complete[0]
		complete = complete[1:]
		// Remove the manifest first so the set stops being a candidate.
		for _, p := range []string{e.path, e.path + ".pkl", e.path + "_regrets.pkl", e.path + "_metadata.json"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ReadCheckpointMetadata verifies the checkpoint at manifestPath and returns
// its metadata.
func ReadCheckpointMetadata(manifestPath string) (CheckpointMetadata, error) {
	var meta CheckpointMetadata
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return meta, err
	}
	if err := fileutil.ReadJSON(filepath.Join(filepath.Dir(manifestPath), m.Metadata.Name), &meta); err != nil {
		return meta, fmt.Errorf("read checkpoint metadata: %w", err)
	}
	return meta, nil
}

// LoadCheckpoint restores a trainer from the manifest at path. The bucketer
// must match the one the checkpoint was trained with.
func LoadCheckpoint(path string, buckets Bucketer, opts ...Option) (*Trainer, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	var meta CheckpointMetadata
	if err := fileutil.ReadJSON(filepath.Join(dir, m.Metadata.Name), &meta); err != nil {
		return nil, fmt.Errorf("read checkpoint metadata: %w", err)
	}
	if meta.Version != checkpointFormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint metadata version %d", meta.Version)
	}
	if meta.BucketHash != buckets.Hash() {
		return nil, fmt.Errorf("%w: checkpoint trained with %s, resuming with %s", ErrBucketMismatch, meta.BucketHash, buckets.Hash())
	}

	var snap RegretSnapshot
	if err := fileutil.ReadGob(filepath.Join(dir, m.Regrets.Name), &snap); err != nil {
		return nil, fmt.Errorf("read regrets: %w", err)
	}
	regrets, err := RestoreRegrets(snap)
	if err != nil {
		return nil, err
	}

	t, err := NewTrainer(meta.Config, buckets, opts...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint config invalid: %w", err)
	}
	if err := randutil.Restore(t.src, meta.RNGState); err != nil {
		return nil, fmt.Errorf("restore rng state: %w", err)
	}
	elapsed := time.Duration(meta.ElapsedSeconds * float64(time.Second))
	t.regrets = regrets
	t.iteration = meta.Iteration
	t.elapsed = elapsed
	t.epsilon = meta.Epsilon
	t.discount = discountFactors{
		Positive: meta.RegretDiscount,
		Negative: meta.NegativeDiscount,
		Strategy: meta.StrategyDiscount,
	}
	t.lastCheckpointIter, t.lastCheckpointAt = meta.Iteration, elapsed
	t.lastSnapshotIter, t.lastSnapshotAt = meta.Iteration, elapsed
	t.logger.Info().
		Str("checkpoint", filepath.Base(path)).
		Int64("iteration", meta.Iteration).
		Int("infosets", regrets.Len()).
		Msg("Resumed from checkpoint")
	return t, nil
}

// LoadCheckpointPolicy reads only the average policy stored in a checkpoint.
func LoadCheckpointPolicy(path string) (*Policy, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	var a trainerArtifact
	if err := fileutil.ReadGob(filepath.Join(filepath.Dir(path), m.Main.Name), &a); err != nil {
		return nil, fmt.Errorf("read main artifact: %w", err)
	}
	return policyFromFile(a.Policy)
}
