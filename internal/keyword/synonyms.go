package keyword

// Synonyms maps a canonical term to the phrasings guests use for it.
// Matching is by substring, so Korean particles attached to a term still hit.
var Synonyms = map[string][]string{
	"체크인":  {"입실", "check-in", "checkin", "도착", "들어가"},
	"체크아웃": {"퇴실", "check-out", "checkout", "나가"},
	"와이파이": {"wifi", "wi-fi", "인터넷", "비밀번호", "무선"},
	"주차":   {"parking", "주차장", "차량", "자동차"},
	"주소":   {"address", "위치", "location", "어디", "찾아가"},
	"편의시설": {"amenities", "어메니티", "비품", "수건", "드라이어", "세탁기"},
	"맛집":   {"restaurant", "식당", "음식점", "카페", "먹을"},
	"교통":   {"transport", "버스", "지하철", "택시", "기차역"},
	"규칙":   {"rules", "금연", "흡연", "소음", "반려동물", "파티"},
	"쓰레기":  {"trash", "분리수거", "재활용", "음식물"},
	"냉난방":  {"heating", "cooling", "에어컨", "난방", "보일러", "온수"},
	"연락처":  {"contact", "전화", "호스트", "문의", "연락"},
}
