package classify

import (
	"testing"

	"github.com/TobiSchelling/toolscout/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		hint model.SourceKind
		want Ref
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "", Ref{Kind: model.KindYouTube, ItemID: "dQw4w9WgXcQ"}},
		{"watch url extra params", "https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=10", "", Ref{Kind: model.KindYouTube, ItemID: "dQw4w9WgXcQ"}},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "", Ref{Kind: model.KindYouTube, ItemID: "dQw4w9WgXcQ"}},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "", Ref{Kind: model.KindYouTube, ItemID: "dQw4w9WgXcQ"}},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", "", Ref{Kind: model.KindYouTube, ItemID: "dQw4w9WgXcQ"}},
		{"channel handle", "https://www.youtube.com/@TwoMinutePapers", "", Ref{Kind: model.KindYouTube, Channel: "TwoMinutePapers", Form: FormHandle}},
		{"channel handle with tab", "https://www.youtube.com/@TwoMinutePapers?tab=videos", "", Ref{Kind: model.KindYouTube, Channel: "TwoMinutePapers", Form: FormHandle}},
		{"channel id", "https://www.youtube.com/channel/UCbfYPyITQ-7l4upoX8nvctg", "", Ref{Kind: model.KindYouTube, Channel: "UCbfYPyITQ-7l4upoX8nvctg", Form: FormID}},
		{"custom url", "https://www.youtube.com/c/Fireship", "", Ref{Kind: model.KindYouTube, Channel: "Fireship", Form: FormCustom}},
		{"user url", "https://www.youtube.com/user/sentdex", "", Ref{Kind: model.KindYouTube, Channel: "sentdex", Form: FormUser}},
		{"bare handle with youtube hint", "@Fireship", model.KindYouTube, Ref{Kind: model.KindYouTube, Channel: "Fireship", Form: FormHandle}},
		{"telegram post", "https://t.me/ai_tools_daily/1234", "", Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily", ItemID: "1234"}},
		{"telegram preview", "https://t.me/s/ai_tools_daily", "", Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily"}},
		{"telegram preview post", "t.me/s/ai_tools_daily/77", "", Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily", ItemID: "77"}},
		{"telegram.me host", "https://telegram.me/ai_tools_daily", "", Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily"}},
		{"bare handle defaults to telegram", "@ai_tools_daily", "", Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily"}},
		{"hint overrides host", "https://t.me/ai_tools_daily", model.KindTelegram, Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily"}},
		{"telegram handle too short", "@abc", "", Ref{}},
		{"unknown host", "https://example.com/video/1", "", Ref{}},
		{"empty", "   ", "", Ref{}},
		{"youtube home", "https://www.youtube.com/", "", Ref{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in, tt.hint)
			if got != tt.want {
				t.Errorf("Classify(%q, %q) = %+v, want %+v", tt.in, tt.hint, got, tt.want)
			}
		})
	}
}

func TestRefPredicates(t *testing.T) {
	if !(Ref{}).IsZero() {
		t.Error("zero Ref should report IsZero")
	}
	item := Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily", ItemID: "5"}
	if item.IsZero() || !item.IsItem() {
		t.Errorf("expected item ref, got %+v", item)
	}
	ch := Ref{Kind: model.KindTelegram, Channel: "ai_tools_daily"}
	if ch.IsItem() {
		t.Error("channel ref should not be an item")
	}
}
