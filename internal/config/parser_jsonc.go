package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// fileConfig mirrors the JSONC document. Pointer fields distinguish absent
// keys from zero values so only keys present in the file override the base.
type fileConfig struct {
	Endpoint *struct {
		URL  *string `json:"url"`
		Path *string `json:"path"`
	} `json:"endpoint"`
	Audio *struct {
		Backend  *string `json:"backend"`
		Input    *string `json:"input"`
		Fallback *string `json:"fallback"`
	} `json:"audio"`
	Indicator *struct {
		Enable            *bool   `json:"enable"`
		Backend           *string `json:"backend"`
		DesktopAppName    *string `json:"desktop_app_name"`
		SoundEnable       *bool   `json:"sound_enable"`
		SoundStartFile    *string `json:"sound_start_file"`
		SoundStopFile     *string `json:"sound_stop_file"`
		SoundCompleteFile *string `json:"sound_complete_file"`
		SoundErrorFile    *string `json:"sound_error_file"`
	} `json:"indicator"`
	Result *struct {
		CopyToClipboard *bool `json:"copy_to_clipboard"`
	} `json:"result"`
	Metrics *struct {
		Listen *string `json:"listen"`
	} `json:"metrics"`
	Log *struct {
		Level     *string `json:"level"`
		MaxSizeKB *int    `json:"max_size_kb"`
		MaxFiles  *int    `json:"max_files"`
	} `json:"log"`
	Debug *struct {
		AudioDump *bool `json:"audio_dump"`
	} `json:"debug"`

	ClipboardCmd *string `json:"clipboard_cmd"`
}

// Parse layers JSONC content over base and validates the result. Blank
// content yields base unchanged.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}
	return parseJSONC(content, base)
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	dec := json.NewDecoder(strings.NewReader(normalized))
	dec.DisallowUnknownFields()

	var file fileConfig
	if err := dec.Decode(&file); err != nil {
		return Config{}, nil, locate(normalized, err)
	}
	if dec.More() {
		return Config{}, nil, errors.New("multiple JSON values are not allowed")
	}

	cfg := base
	if err := file.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (f fileConfig) applyTo(cfg *Config) error {
	if e := f.Endpoint; e != nil {
		setTrimmed(&cfg.Endpoint.URL, e.URL)
		setTrimmed(&cfg.Endpoint.Path, e.Path)
	}
	if a := f.Audio; a != nil {
		setTrimmed(&cfg.Audio.Backend, a.Backend)
		cfg.Audio.Backend = strings.ToLower(cfg.Audio.Backend)
		set(&cfg.Audio.Input, a.Input)
		set(&cfg.Audio.Fallback, a.Fallback)
	}
	if ind := f.Indicator; ind != nil {
		set(&cfg.Indicator.Enable, ind.Enable)
		setTrimmed(&cfg.Indicator.Backend, ind.Backend)
		setTrimmed(&cfg.Indicator.DesktopAppName, ind.DesktopAppName)
		set(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setTrimmed(&cfg.Indicator.SoundStartFile, ind.SoundStartFile)
		setTrimmed(&cfg.Indicator.SoundStopFile, ind.SoundStopFile)
		setTrimmed(&cfg.Indicator.SoundCompleteFile, ind.SoundCompleteFile)
		setTrimmed(&cfg.Indicator.SoundErrorFile, ind.SoundErrorFile)
	}
	if r := f.Result; r != nil {
		set(&cfg.Result.CopyToClipboard, r.CopyToClipboard)
	}
	if m := f.Metrics; m != nil {
		setTrimmed(&cfg.Metrics.Listen, m.Listen)
	}
	if l := f.Log; l != nil {
		setTrimmed(&cfg.Log.Level, l.Level)
		set(&cfg.Log.MaxSizeKB, l.MaxSizeKB)
		set(&cfg.Log.MaxFiles, l.MaxFiles)
	}
	if d := f.Debug; d != nil {
		set(&cfg.Debug.EnableAudioDump, d.AudioDump)
	}
	if f.ClipboardCmd != nil {
		cmd, err := ParseCommand(*f.ClipboardCmd)
		if err != nil {
			return fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard = cmd
	}
	return nil
}

// normalizeJSONC turns JSONC into plain JSON by overwriting comments and
// trailing commas with spaces. Byte offsets are preserved, so decoder error
// positions still point into the original text.
func normalizeJSONC(content string) (string, error) {
	buf := []byte(content)
	pendingComma := -1

	for i := 0; i < len(buf); i++ {
		switch c := buf[i]; {
		case c == '"':
			i = stringEnd(buf, i)
			pendingComma = -1
		case c == '/' && i+1 < len(buf) && buf[i+1] == '/':
			for i < len(buf) && buf[i] != '\n' && buf[i] != '\r' {
				buf[i] = ' '
				i++
			}
			i--
		case c == '/' && i+1 < len(buf) && buf[i+1] == '*':
			n := bytes.Index(buf[i+2:], []byte("*/"))
			if n < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			end := i + 2 + n + 2
			blank(buf[i:end])
			i = end - 1
		case c == ',':
			pendingComma = i
		case c == '}' || c == ']':
			if pendingComma >= 0 {
				buf[pendingComma] = ' '
			}
			pendingComma = -1
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			pendingComma = -1
		}
	}
	return string(buf), nil
}

// stringEnd returns the index of the quote closing the string that opens at
// start, or the last index when the string is unterminated.
func stringEnd(buf []byte, start int) int {
	for i := start + 1; i < len(buf); i++ {
		switch buf[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(buf) - 1
}

// blank replaces every byte except line breaks and tabs with a space.
func blank(b []byte) {
	for i, c := range b {
		if c != '\n' && c != '\r' && c != '\t' {
			b[i] = ' '
		}
	}
}

// locate prefixes decoder errors that carry an offset with line and column.
func locate(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

// offsetToLineCol maps a decoder offset (bytes consumed) to the 1-based line
// and column of the last consumed byte. Offsets past the end clamp to the
// final byte.
func offsetToLineCol(content string, offset int64) (int, int) {
	n := int(max(min(offset, int64(len(content))), 1))
	prefix := content[:n-1]
	line := 1 + strings.Count(prefix, "\n")
	col := len(prefix) - strings.LastIndexByte(prefix, '\n')
	return line, col
}
