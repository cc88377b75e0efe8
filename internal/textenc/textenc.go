// Package textenc 按候选列表解码/编码旧式文本（UTF-8 BOM、UTF-8、Shift_JIS 系、EUC-JP 等）。
package textenc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// DefaultCandidates 为登记表的默认尝试顺序。
var DefaultCandidates = []string{"utf-8-sig", "utf-8", "cp932", "euc-jp"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Encoding 是已解析的编码。
type Encoding struct {
	// Name 为规范名（utf-8-sig / utf-8 / cp932 / euc-jp / 其他 IANA 名）。
	Name string
	enc  encoding.Encoding
}

// BOM 表示输出时是否写入 UTF-8 BOM。
func (e Encoding) BOM() bool { return e.Name == "utf-8-sig" }

// 别名表：优先于 htmlindex。
var aliases = map[string]string{
	"utf8":        "utf-8",
	"utf-8":       "utf-8",
	"utf-8-sig":   "utf-8-sig",
	"utf8-sig":    "utf-8-sig",
	"utf-8-bom":   "utf-8-sig",
	"cp932":       "cp932",
	"ms932":       "cp932",
	"windows-31j": "cp932",
	"shift_jis":   "cp932",
	"shift-jis":   "cp932",
	"sjis":        "cp932",
	"euc-jp":      "euc-jp",
	"eucjp":       "euc-jp",
	"iso-2022-jp": "iso-2022-jp",
}

// Lookup 解析编码名。
func Lookup(name string) (Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[n]; ok {
		switch canon {
		case "utf-8":
			return Encoding{Name: canon, enc: unicode.UTF8}, nil
		case "utf-8-sig":
			return Encoding{Name: canon, enc: unicode.UTF8BOM}, nil
		case "cp932":
			return Encoding{Name: canon, enc: japanese.ShiftJIS}, nil
		case "euc-jp":
			return Encoding{Name: canon, enc: japanese.EUCJP}, nil
		case "iso-2022-jp":
			return Encoding{Name: canon, enc: japanese.ISO2022JP}, nil
		}
	}
	enc, err := htmlindex.Get(n)
	if err != nil {
		return Encoding{}, fmt.Errorf("%w: unknown encoding %q", contract.ErrConfig, name)
	}
	canon, _ := htmlindex.Name(enc)
	if canon == "" {
		canon = n
	}
	return Encoding{Name: canon, enc: enc}, nil
}

// Attempt 记录一次解码尝试。
type Attempt struct {
	Encoding string
	Err      error
}

// DecodeError 列出全部失败尝试。
type DecodeError struct {
	Attempts []Attempt
}

func (e *DecodeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Encoding, a.Err))
	}
	return "no candidate encoding succeeded (" + strings.Join(parts, "; ") + ")"
}

func (e *DecodeError) Unwrap() error { return contract.ErrDecode }

var errReplacement = errors.New("invalid byte sequence")

// Decode 按候选顺序解码 b，返回文本与生效编码。
// utf-8-sig 仅在数据确有 BOM 时命中；无 BOM 的 UTF-8 归为 utf-8。
func Decode(b []byte, candidates []string) (string, Encoding, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	var de DecodeError
	for _, name := range candidates {
		enc, err := Lookup(name)
		if err != nil {
			return "", Encoding{}, err
		}
		text, err := decodeWith(b, enc)
		if err != nil {
			de.Attempts = append(de.Attempts, Attempt{Encoding: enc.Name, Err: err})
			continue
		}
		return text, enc, nil
	}
	return "", Encoding{}, &de
}

func decodeWith(b []byte, enc Encoding) (string, error) {
	switch enc.Name {
	case "utf-8-sig":
		if !bytes.HasPrefix(b, utf8BOM) {
			return "", errors.New("missing byte order mark")
		}
		b = b[len(utf8BOM):]
		fallthrough
	case "utf-8":
		if !utf8.Valid(b) {
			return "", errReplacement
		}
		return string(b), nil
	}
	out, _, err := transform.Bytes(enc.enc.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	// 日文解码器对非法序列写入 U+FFFD 而不报错
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", errReplacement
	}
	return string(out), nil
}

// Encode 以 enc 编码 s；无法表示的字符返回错误。utf-8-sig 会前置 BOM。
func Encode(s string, enc Encoding) ([]byte, error) {
	switch enc.Name {
	case "utf-8", "utf-8-sig":
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("encode %s: %w", enc.Name, errReplacement)
		}
		if enc.BOM() {
			return append(append([]byte{}, utf8BOM...), s...), nil
		}
		return []byte(s), nil
	}
	out, _, err := transform.Bytes(enc.enc.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", enc.Name, err)
	}
	return out, nil
}
