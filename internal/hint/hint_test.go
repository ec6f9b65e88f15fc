package hint

import "testing"

func TestExtractHint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"到开封书店街了，找附近的店", "开封书店街"},
		{"在鼓楼广场附近想吃小吃", "鼓楼广场"},
		{"周末去郑州玩", "郑州"},
		{"下周到上海出差", "上海"},
		{"到成都旅游想吃火锅", "成都"},
		{"随便找几家好吃的", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := ExtractHint(c.in); got != c.want {
			t.Errorf("ExtractHint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractHintRuleOrder(t *testing.T) {
	// “到…了”规则在表中靠前，即便“在…附近”在文本中更早出现也先生效
	got := ExtractHint("在家附近没意思，到开封了")
	if got != "开封" {
		t.Fatalf("got %q, want 开封", got)
	}
}

func TestExtractHintStopsAtPunctuation(t *testing.T) {
	if got := ExtractHint("到开封书店街了。想吃灌汤包"); got != "开封书店街" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractCityHint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"开封市鼓楼区书店街", "开封市"},
		{"河南省开封市书店街", "开封市"},
		{"开封书店街", "开封"},
		{"郑州高新区雪松路", "郑州"},
		{"书店街", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := ExtractCityHint(c.in); got != c.want {
			t.Errorf("ExtractCityHint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
