package textualize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/guidechat/internal/models"
)

func TestTextualize_QuickInfo(t *testing.T) {
	content := json.RawMessage(`{"checkIn":"15:00","checkOut":" 11:00 ","wifiName":"Ocean_5G","wifiPassword":"sea1234","maxGuests":4}`)
	got := Textualize(models.BlockTypeQuickInfo, content)

	if !strings.HasPrefix(got, "[체크인, 체크아웃, 입실, 퇴실, 와이파이, 주차, 주소]") {
		t.Errorf("missing hint list: %q", got)
	}
	for _, want := range []string{"체크인 시간: 15:00", "체크아웃 시간: 11:00", "와이파이 이름: Ocean_5G", "와이파이 비밀번호: sea1234", "최대 인원: 4"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "주차:") {
		t.Errorf("empty field should be omitted: %q", got)
	}
}

func TestTextualize_EmptyAndMalformed(t *testing.T) {
	tests := []struct {
		name    string
		typ     models.BlockType
		content string
	}{
		{"unknown type", models.BlockType("gallery"), `{"title":"x"}`},
		{"malformed json", models.BlockTypeHero, `{"title":`},
		{"all fields empty", models.BlockTypeQuickInfo, `{"checkIn":"  ","checkOut":""}`},
		{"empty object", models.BlockTypeNotice, `{}`},
		{"nil content", models.BlockTypeMap, ``},
		{"wrong shape", models.BlockTypeAmenities, `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Textualize(tt.typ, json.RawMessage(tt.content)); got != "" {
				t.Errorf("expected empty, got %q", got)
			}
		})
	}
}

func TestTextualize_Lists(t *testing.T) {
	amen := Textualize(models.BlockTypeAmenities, json.RawMessage(`{"items":[{"name":"헤어드라이어","description":"욕실 서랍"},{"name":"  "}]}`))
	if !strings.Contains(amen, "- 헤어드라이어 - 욕실 서랍") {
		t.Errorf("amenities: %q", amen)
	}
	if strings.Count(amen, "\n- ") != 1 {
		t.Errorf("blank item should be skipped: %q", amen)
	}

	pick := Textualize(models.BlockTypeHostPick, json.RawMessage(`{"items":[{"name":"해운대 국밥","category":"맛집","address":"부산 해운대구"}]}`))
	if !strings.Contains(pick, "추천 장소: 해운대 국밥 (맛집) (주소: 부산 해운대구)") {
		t.Errorf("host pick: %q", pick)
	}

	n := Textualize(models.BlockTypeNotice, json.RawMessage(`{"title":"이용 규칙","items":["실내 금연","22시 이후   정숙"]}`))
	if !strings.Contains(n, "- 22시 이후 정숙") || !strings.Contains(n, "공지: 이용 규칙") {
		t.Errorf("notice: %q", n)
	}

	m := Textualize(models.BlockTypeMap, json.RawMessage(`{"address":"서울 마포구","places":[{"name":"망원시장","category":"시장"}]}`))
	if !strings.Contains(m, "주소: 서울 마포구") || !strings.Contains(m, "주변 장소: 망원시장 (시장)") {
		t.Errorf("map: %q", m)
	}
}

func TestTextualize_Deterministic(t *testing.T) {
	content := json.RawMessage(`{"title":"오션뷰 하우스","subtitle":"바다 앞 독채","hostName":"민지"}`)
	first := Textualize(models.BlockTypeHero, content)
	for i := 0; i < 5; i++ {
		if got := Textualize(models.BlockTypeHero, content); got != first {
			t.Fatalf("non-deterministic output: %q vs %q", got, first)
		}
	}
	if !strings.Contains(first, "호스트: 민지") {
		t.Errorf("hero: %q", first)
	}
}

func TestTextualize_EveryTypeHasHints(t *testing.T) {
	for _, bt := range models.BlockTypes {
		if len(hints[bt]) == 0 {
			t.Errorf("no hints for %s", bt)
		}
	}
}
