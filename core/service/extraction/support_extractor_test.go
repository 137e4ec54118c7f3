package extraction

import (
	"strings"
	"testing"

	"support_server/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestExtract_SenderResolution(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name string
		from string
		body string
		want string
	}{
		{"from header", "Иван Петров <ivan.petrov@plant.ru>", "contact me at other@example.org", "ivan.petrov@plant.ru"},
		{"body fallback", "Иван Петров", "Пишите на service@factory.com, спасибо", "service@factory.com"},
		{"placeholder", "", "без адреса", PlaceholderEmail},
		{"placeholder on empty input", "", "", PlaceholderEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := e.Extract("subject", tt.body, tt.from)
			assert.Equal(t, tt.want, draft.Email)
		})
	}
}

func TestExtract_KeywordFields(t *testing.T) {
	e := NewExtractor()
	body := "Организация: ООО Ромашка\n" +
		"ФИО: Иванов Иван Иванович\n" +
		"Имя: Пётр\n" +
		"Тип прибора: Газоанализатор\n" +
		"Заводской номер: SN-778812\n" +
		"Проект = Северный\n" +
		"Регион: Урал\n"

	draft := e.Extract("Заявка", body, "client@plant.ru")

	assert.Equal(t, "ООО Ромашка", draft.Organization)
	assert.Equal(t, "Иванов Иван Иванович", draft.FullName)
	assert.Equal(t, "Газоанализатор", draft.DeviceType)
	assert.Equal(t, "SN-778812", draft.SerialNumber)
	assert.Equal(t, "Северный", draft.Project)
	assert.Equal(t, "Урал", draft.CountryRegion)
}

func TestExtract_FullNamePrecedence(t *testing.T) {
	e := NewExtractor()

	draft := e.Extract("", "ФИО: Сидоров Алексей\nИмя: Лёша", "a@b.ru")
	assert.Equal(t, "Сидоров Алексей", draft.FullName)

	draft = e.Extract("", "Имя: Лёша\nКонтакт без фамилии", "a@b.ru")
	assert.Equal(t, "Лёша", draft.FullName)
}

func TestExtract_SerialPrecedence(t *testing.T) {
	e := NewExtractor()
	draft := e.Extract("", "Заводской номер: Z-1\nСерийный номер: S-2", "a@b.ru")
	assert.Equal(t, "S-2", draft.SerialNumber)
}

func TestExtract_Patterns(t *testing.T) {
	e := NewExtractor()

	draft := e.Extract("", "Телефон: +79123456789", "a@b.ru")
	assert.Equal(t, "+79123456789", draft.Phone)

	draft = e.Extract("", "ИНН: 7701234567", "a@b.ru")
	assert.Equal(t, "7701234567", draft.INN)

	draft = e.Extract("", "no digits here", "a@b.ru")
	assert.Empty(t, draft.Phone)
	assert.Empty(t, draft.INN)
}

func TestExtract_HTMLBody(t *testing.T) {
	e := NewExtractor()
	body := `<html><head><style>p{color:red}</style></head><body>` +
		`<p>Организация: <b>ООО Вектор</b></p><div>ФИО: Петров П.П.</div></body></html>`

	draft := e.Extract("Гарантия", body, "x@y.ru")

	assert.Equal(t, "ООО Вектор", draft.Organization)
	assert.Equal(t, "Петров П.П.", draft.FullName)
	assert.Equal(t, body, draft.Body)
}

func TestValueAfterKeyword(t *testing.T) {
	long := strings.Repeat("я", 150)

	tests := []struct {
		name    string
		text    string
		keyword string
		want    string
		ok      bool
	}{
		{"colon", "Проект: Альфа", "проект", "Альфа", true},
		{"equals", "проект={Бета}", "проект", "Бета", true},
		{"case insensitive", "ПРОЕКТ: Гамма\nдальше", "проект", "Гамма", true},
		{"artifacts stripped", "Страна: <[Россия]>", "страна", "Россия", true},
		{"too short", "Страна: [Р]", "страна", "", false},
		{"missing", "ничего", "страна", "", false},
		{"capped at 100", "Проект: " + long, "проект", strings.Repeat("я", 100), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValueAfterKeyword(tt.text, tt.keyword)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		subject string
		body    string
		want    domain.RequestCategory
	}{
		{"Гарантия", "нужен ремонт прибора", domain.CategoryWarranty},
		{"", "Прибор неисправный", domain.CategoryRepair},
		{"Монтаж", "", domain.CategoryInstallation},
		{"", "Помогите с настройкой? Настройка не проходит", domain.CategoryConfiguration},
		{"Вопрос", "", domain.CategoryConsultation},
		{"Need support", "", domain.CategoryTechnicalSupport},
		{"Hello", "just saying hi", domain.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.subject, tt.body))
		})
	}
}

func TestExtract_NeverPanics(t *testing.T) {
	e := NewExtractor()
	inputs := []string{
		"",
		"\xff\xfe\xfd",
		"<<<>>>",
		"<html><body><p>unterminated",
		"ФИО:",
		"ФИО",
		strings.Repeat("организация:", 1000),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			draft := e.Extract(in, in, in)
			assert.NotEmpty(t, draft.Email)
		})
	}
}

func TestNormalizeBody_PlainTextUntouched(t *testing.T) {
	text := "Line one\nLine two < 3"
	assert.Equal(t, text, NormalizeBody(text))
}
