// Package textualize converts typed guide blocks into flat search text.
//
// Every block type has a fixed hint list and a fixed set of Korean field labels.
// Hints widen keyword matching for common guest phrasings; they never make a
// block with no content searchable on their own.
package textualize

import (
	"encoding/json"
	"strings"

	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/pkg/utils"
)

var hints = map[models.BlockType][]string{
	models.BlockTypeHero:      {"소개", "숙소", "호스트"},
	models.BlockTypeQuickInfo: {"체크인", "체크아웃", "입실", "퇴실", "와이파이", "주차", "주소"},
	models.BlockTypeAmenities: {"편의시설", "어메니티", "비품", "시설"},
	models.BlockTypeMap:       {"위치", "지도", "주변", "교통", "가는 길"},
	models.BlockTypeHostPick:  {"추천", "맛집", "카페", "관광"},
	models.BlockTypeNotice:    {"공지", "주의사항", "규칙", "안내"},
}

type heroContent struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
	HostName    string `json:"hostName"`
}

type quickInfoContent struct {
	CheckIn      string          `json:"checkIn"`
	CheckOut     string          `json:"checkOut"`
	WifiName     string          `json:"wifiName"`
	WifiPassword string          `json:"wifiPassword"`
	Parking      string          `json:"parking"`
	Address      string          `json:"address"`
	MaxGuests    json.RawMessage `json:"maxGuests"`
	Contact      string          `json:"contact"`
	Notes        string          `json:"notes"`
}

type amenitiesContent struct {
	Description string `json:"description"`
	Items       []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"items"`
}

type mapContent struct {
	Address     string `json:"address"`
	Description string `json:"description"`
	Directions  string `json:"directions"`
	Places      []struct {
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
	} `json:"places"`
}

type hostPickContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Items       []struct {
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Address     string `json:"address"`
	} `json:"items"`
}

type noticeContent struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Items   []string `json:"items"`
}

// fields accumulates labeled, whitespace-normalised values.
type fields []string

func (f *fields) add(label, value string) {
	value = utils.CollapseSpace(value)
	if value == "" {
		return
	}
	if label == "" {
		*f = append(*f, value)
		return
	}
	*f = append(*f, label+": "+value)
}

func (f *fields) item(value string) {
	if value = utils.CollapseSpace(value); value != "" {
		*f = append(*f, "- "+value)
	}
}

// join renders parts as "name (category) - description", skipping empty parts.
func join(name, category, description string) string {
	name = utils.CollapseSpace(name)
	category = utils.CollapseSpace(category)
	description = utils.CollapseSpace(description)
	var b strings.Builder
	b.WriteString(name)
	if category != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("(" + category + ")")
	}
	if description != "" {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(description)
	}
	return b.String()
}

// scalar renders a JSON string or number; anything else is dropped.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Textualize renders a block's content as search text. It returns "" for
// unknown types, malformed JSON and blocks whose fields are all empty.
func Textualize(blockType models.BlockType, content json.RawMessage) string {
	var f fields
	var err error
	switch blockType {
	case models.BlockTypeHero:
		f, err = hero(content)
	case models.BlockTypeQuickInfo:
		f, err = quickInfo(content)
	case models.BlockTypeAmenities:
		f, err = amenities(content)
	case models.BlockTypeMap:
		f, err = mapBlock(content)
	case models.BlockTypeHostPick:
		f, err = hostPick(content)
	case models.BlockTypeNotice:
		f, err = notice(content)
	default:
		return ""
	}
	if err != nil || len(f) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f)+1)
	if h := hints[blockType]; len(h) > 0 {
		parts = append(parts, "["+strings.Join(h, ", ")+"]")
	}
	parts = append(parts, f...)
	return strings.Join(parts, "\n")
}

func decode(content json.RawMessage, v any) error {
	if len(content) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(content, v)
}

func hero(content json.RawMessage) (fields, error) {
	var c heroContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("숙소명", c.Title)
	f.add("소개", c.Subtitle)
	f.add("설명", c.Description)
	f.add("호스트", c.HostName)
	return f, nil
}

func quickInfo(content json.RawMessage) (fields, error) {
	var c quickInfoContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("체크인 시간", c.CheckIn)
	f.add("체크아웃 시간", c.CheckOut)
	f.add("와이파이 이름", c.WifiName)
	f.add("와이파이 비밀번호", c.WifiPassword)
	f.add("주차", c.Parking)
	f.add("주소", c.Address)
	f.add("최대 인원", scalar(c.MaxGuests))
	f.add("연락처", c.Contact)
	f.add("참고", c.Notes)
	return f, nil
}

func amenities(content json.RawMessage) (fields, error) {
	var c amenitiesContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("편의시설", c.Description)
	for _, it := range c.Items {
		f.item(join(it.Name, "", it.Description))
	}
	return f, nil
}

func mapBlock(content json.RawMessage) (fields, error) {
	var c mapContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("주소", c.Address)
	f.add("위치 설명", c.Description)
	f.add("찾아오는 길", c.Directions)
	for _, p := range c.Places {
		f.add("주변 장소", join(p.Name, p.Category, p.Description))
	}
	return f, nil
}

func hostPick(content json.RawMessage) (fields, error) {
	var c hostPickContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("호스트 추천", c.Title)
	f.add("설명", c.Description)
	for _, it := range c.Items {
		entry := join(it.Name, it.Category, it.Description)
		if addr := utils.CollapseSpace(it.Address); addr != "" {
			if entry != "" {
				entry += " "
			}
			entry += "(주소: " + addr + ")"
		}
		f.add("추천 장소", entry)
	}
	return f, nil
}

func notice(content json.RawMessage) (fields, error) {
	var c noticeContent
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	var f fields
	f.add("공지", c.Title)
	f.add("내용", c.Content)
	for _, it := range c.Items {
		f.item(it)
	}
	return f, nil
}
