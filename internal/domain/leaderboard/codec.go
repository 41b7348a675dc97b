package leaderboard

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// ErrReservedName возвращается при попытке завести игрока с именем "metadata".
var ErrReservedName = shared.ErrReservedPlayerName

// ══════════════════════════════════════════════════════════════════════════════
// JSON
// ══════════════════════════════════════════════════════════════════════════════

// MarshalJSON пишет {"<player>": {...}, ..., "metadata": {...}} в порядке игроков.
func (l *Leaderboard) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, name := range l.names {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(l.records[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		buf.WriteByte(',')
	}
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"` + MetadataKey + `":`)
	buf.Write(meta)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// legacyMetadata принимает ключи старых версий файла.
type legacyMetadata struct {
	Metadata
	LastGameTimestamp *int64 `json:"last_game_timestamp,omitempty"`
}

// legacyRecord принимает ключ Average_TC старых версий файла.
type legacyRecord struct {
	PlayerRecord
	AverageTC string `json:"Average_TC,omitempty"`
}

// UnmarshalJSON читает документ, сохраняя порядок игроков.
// Нечитаемые записи игроков пропускаются: они всё равно будут пересчитаны.
func (l *Leaderboard) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return shared.WrapError("leaderboard", "Load", shared.ErrInvalidFormat, "leaderboard document is malformed", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return shared.WrapError("leaderboard", "Load", shared.ErrInvalidFormat,
			fmt.Sprintf("expected object, got %v", tok), nil)
	}

	out := New(Metadata{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return shared.WrapError("leaderboard", "Load", shared.ErrInvalidFormat, "leaderboard document is malformed", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return shared.WrapError("leaderboard", "Load", shared.ErrInvalidFormat, "leaderboard document is malformed", err)
		}

		if key == MetadataKey {
			var meta legacyMetadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				return shared.WrapError("leaderboard", "Load", shared.ErrInvalidFormat, "metadata block is malformed", err)
			}
			if meta.LastFetch == 0 && meta.LastGameTimestamp != nil {
				meta.LastFetch = *meta.LastGameTimestamp
			}
			out.Metadata = meta.Metadata
			continue
		}

		var rec legacyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.AverageTimeControl == "" && rec.AverageTC != "" {
			rec.AverageTimeControl = rec.AverageTC
		}
		if rec.Games == 0 {
			rec.Games = rec.Wins + rec.Draws + rec.Losses
		}
		_ = out.Set(key, rec.PlayerRecord)
	}

	*l = *out
	return nil
}
