package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TodoTitleMaxLength はタスクタイトルの最大文字数（ルーン数）。
const TodoTitleMaxLength = 100

// Todo はユーザーが所有するタスクを表す。
type Todo struct {
	ID        string
	Title     string
	Completed bool
	OwnerID   OwnerID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TodoPatch はタスクの部分更新内容を表す。nilのフィールドは変更しない。
type TodoPatch struct {
	Title     *string
	Completed *bool
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (p TodoPatch) IsEmpty() bool {
	return p.Title == nil && p.Completed == nil
}

// OwnerID はタスク所有者の正規化済みユーザーID。
// Task Repositoryの境界では必ずこの型を使い、生の文字列で所有者を比較しない。
type OwnerID string

// ErrInvalidOwnerID は所有者IDに変換できない値が渡された場合のエラー。
var ErrInvalidOwnerID = errors.New("invalid owner id")

// String はOwnerIDの文字列表現を返す。
func (o OwnerID) String() string {
	return string(o)
}

// NewOwnerID は任意の識別子表現を正規化された所有者IDに変換する。
// UUIDとして解釈できる値は小文字ハイフン区切りの正規形に揃えるため、
// uuid.UUID・大文字の文字列・前後に空白を含む文字列は同じOwnerIDになる。
// JSON由来の数値（float64）は整数値のみ受け付ける。
func NewOwnerID(v any) (OwnerID, error) {
	var raw string

	switch id := v.(type) {
	case nil:
		return "", ErrInvalidOwnerID
	case OwnerID:
		raw = string(id)
	case string:
		raw = id
	case []byte:
		raw = string(id)
	case uuid.UUID:
		raw = id.String()
	case int:
		raw = strconv.FormatInt(int64(id), 10)
	case int64:
		raw = strconv.FormatInt(id, 10)
	case int32:
		raw = strconv.FormatInt(int64(id), 10)
	case uint64:
		raw = strconv.FormatUint(id, 10)
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) || math.IsNaN(id) {
			return "", fmt.Errorf("%w: non-integral number %v", ErrInvalidOwnerID, id)
		}
		raw = strconv.FormatFloat(id, 'f', -1, 64)
	case fmt.Stringer:
		raw = id.String()
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidOwnerID, v)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidOwnerID
	}

	if parsed, err := uuid.Parse(raw); err == nil {
		// Nil UUIDはどの表現でも所有者として扱わない
		if parsed == uuid.Nil {
			return "", ErrInvalidOwnerID
		}
		return OwnerID(parsed.String()), nil
	}
	return OwnerID(raw), nil
}
