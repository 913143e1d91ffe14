package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/mattn/go-shellwords"

	"github.com/MimeLyc/transcript-collector/pkg/file"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

const (
	DefaultCommand  = "whisper"
	DefaultYtDlp    = "yt-dlp"
	DefaultWatchURL = "https://www.youtube.com/watch"
)

// yt-dlp is asked for mp3 but keeps the source container when conversion is unavailable.
var audioExts = []string{"mp3", "m4a", "webm", "opus", "wav"}

// Transcription is the text recovered from an item's audio.
type Transcription struct {
	Text         string
	LanguageCode string
}

type Config struct {
	Command   string
	YtDlpBin  string
	ModelSize ModelSize
	WorkDir   string
	WatchURL  string
	Timeout   time.Duration
}

// Whisper downloads an item's audio with yt-dlp and transcribes it with a Whisper CLI.
type Whisper struct {
	whisperCmd []string
	ytdlpBin   string
	model      ModelSize
	workDir    string
	watchURL   string
	timeout    time.Duration
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	readFile   func(name string) ([]byte, error)
}

func NewWhisper(cfg Config) (*Whisper, error) {
	command := cfg.Command
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	words, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse fallback command %q: %w", command, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty fallback command")
	}

	model, err := ParseModelSize(string(cfg.ModelSize))
	if err != nil {
		return nil, err
	}

	w := &Whisper{
		whisperCmd: words,
		ytdlpBin:   cfg.YtDlpBin,
		model:      model,
		workDir:    cfg.WorkDir,
		watchURL:   cfg.WatchURL,
		timeout:    cfg.Timeout,
		runner:     execRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		readFile:   os.ReadFile,
	}
	if w.ytdlpBin == "" {
		w.ytdlpBin = DefaultYtDlp
	}
	if w.watchURL == "" {
		w.watchURL = DefaultWatchURL
	}
	if w.workDir != "" {
		if err := os.MkdirAll(w.workDir, 0o755); err != nil {
			return nil, fmt.Errorf("create fallback work dir: %w", err)
		}
	}
	return w, nil
}

func (w *Whisper) Model() ModelSize {
	return w.model
}

// Transcribe runs download, locate, transcribe and parse for one item.
// Artifacts live in a per-call temp dir that is removed before returning.
func (w *Whisper) Transcribe(ctx context.Context, itemID string) (Transcription, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	dir, err := w.mkdirTemp(w.workDir, "fallback-*")
	if err != nil {
		return Transcription{}, &StageError{Stage: StageDownload, ItemID: itemID, Message: "cannot create work dir", Err: err}
	}
	defer func() {
		if err := w.removeAll(dir); err != nil {
			log.Warn("Failed to remove fallback work dir %s: %v", dir, err)
		}
	}()

	start := time.Now()
	res, err := w.runner.Run(ctx, w.ytdlpBin, w.downloadArgs(dir, itemID)...)
	if err != nil {
		return Transcription{}, w.stageError(ctx, StageDownload, itemID, "audio download failed", res, err)
	}

	audio, err := file.FindByExt(dir, itemID, audioExts...)
	if err != nil {
		return Transcription{}, &StageError{Stage: StageLocate, ItemID: itemID, Message: "downloaded audio not found", Command: res, Err: err}
	}
	log.Debug("Item %s: audio %s downloaded in %s", itemID, filepath.Base(audio), time.Since(start).Round(time.Millisecond))

	args := append(append([]string{}, w.whisperCmd[1:]...), w.transcribeArgs(dir, audio)...)
	res, err = w.runner.Run(ctx, w.whisperCmd[0], args...)
	if err != nil {
		return Transcription{}, w.stageError(ctx, StageTranscribe, itemID, "whisper failed", res, err)
	}

	out, err := w.readOutput(file.ReplaceExt(audio, ".json"))
	if err != nil {
		return Transcription{}, &StageError{Stage: StageParse, ItemID: itemID, Message: "cannot read whisper output", Command: res, Err: err}
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return Transcription{}, &StageError{Stage: StageParse, ItemID: itemID, Message: "whisper produced no text"}
	}

	lang := strings.TrimSpace(out.Language)
	if lang == "" {
		lang = detectLanguage(text)
	}

	log.Info("Item %s: transcribed with %s in %s", itemID, w.model.SourceLabel(), time.Since(start).Round(time.Second))
	return Transcription{Text: text, LanguageCode: lang}, nil
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (w *Whisper) readOutput(path string) (whisperOutput, error) {
	var out whisperOutput
	data, err := w.readFile(path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// stageError records deadline expiry as the cause so the run reports a timeout.
func (w *Whisper) stageError(ctx context.Context, stage, itemID, msg string, res CommandLog, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &StageError{Stage: stage, ItemID: itemID, Message: msg, Command: res, Err: err}
}

func (w *Whisper) downloadArgs(dir, itemID string) []string {
	return []string{
		"-x",
		"--audio-format", "mp3",
		"--no-playlist",
		"-o", filepath.Join(dir, itemID+".%(ext)s"),
		w.itemURL(itemID),
	}
}

func (w *Whisper) transcribeArgs(dir, audio string) []string {
	return []string{
		audio,
		"--model", string(w.model),
		"--output_format", "json",
		"--output_dir", dir,
	}
}

func (w *Whisper) itemURL(itemID string) string {
	u, err := url.Parse(w.watchURL)
	if err != nil {
		return w.watchURL + "?v=" + url.QueryEscape(itemID)
	}
	q := u.Query()
	q.Set("v", itemID)
	u.RawQuery = q.Encode()
	return u.String()
}

// detectLanguage returns an ISO 639-1 code, or "" when the guess is unreliable.
func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
