package lang

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func best(t *testing.T, text string) *Frame {
	t.Helper()
	frames, err := NewParser(nil).Parse(text)
	require.NoError(t, err, text)
	require.NotEmpty(t, frames)
	return frames[0]
}

func TestParseFact(t *testing.T) {
	f := best(t, "The block is red.")
	assert.Equal(t, FrameFact, f.Kind)
	want := Clause{
		Subj:  &Phrase{Det: "the", Noun: "block"},
		Quals: []Qual{{Word: "red", Cat: "color"}},
	}
	if diff := cmp.Diff(want, f.Main[0]); diff != "" {
		t.Errorf("clause mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "((fact) (main (subj (det the) (noun block)) (hq red)))", f.String())
	assert.Equal(t, "The block is red.", f.Text)
	assert.Equal(t, 1.0, f.Score)
}

func TestParseQuestions(t *testing.T) {
	f := best(t, "What color is the block?")
	assert.Equal(t, FrameWh, f.Kind)
	assert.Equal(t, "color", f.Ask)
	assert.Equal(t, &Phrase{Det: "the", Noun: "block"}, f.Main[0].Subj)

	f = best(t, "Is Rex an animal?")
	assert.Equal(t, FrameYesNo, f.Kind)
	want := Clause{Subj: &Phrase{Name: "Rex"}, Class: &Phrase{Det: "an", Noun: "animal"}}
	if diff := cmp.Diff(want, f.Main[0]); diff != "" {
		t.Errorf("clause mismatch (-want +got):\n%s", diff)
	}

	f = best(t, "Is there a cup?")
	assert.Equal(t, FrameYesNo, f.Kind)
	assert.True(t, f.Main[0].Exist)
	assert.Equal(t, "cup", f.Main[0].Subj.Noun)

	f = best(t, "What is Rex?")
	assert.Equal(t, FrameWh, f.Kind)
	assert.Equal(t, "what", f.Ask)
}

func TestParseRules(t *testing.T) {
	f := best(t, "Dogs are animals.")
	assert.Equal(t, FrameRule, f.Kind)
	assert.Nil(t, f.Cond)
	want := Clause{Subj: &Phrase{Noun: "dog", Plural: true}, Class: &Phrase{Noun: "animal", Plural: true}}
	if diff := cmp.Diff(want, f.Main[0]); diff != "" {
		t.Errorf("clause mismatch (-want +got):\n%s", diff)
	}

	f = best(t, "If X is a dog then X is an animal.")
	assert.Equal(t, FrameRule, f.Kind)
	require.NotNil(t, f.Cond)
	assert.Equal(t, "X", f.Cond.Subj.Var)
	assert.Equal(t, "dog", f.Cond.Class.Noun)
	assert.Equal(t, "animal", f.Main[0].Class.Noun)

	f = best(t, "Big boxes are cargo.")
	assert.Equal(t, FrameRule, f.Kind)
	assert.Equal(t, []Qual{{Word: "big", Cat: "size"}}, f.Main[0].Subj.Quals)
}

func TestParseConditional(t *testing.T) {
	f := best(t, "If there is a cup, pick it up; otherwise say 'no cup'.")
	assert.Equal(t, FrameCond, f.Kind)
	require.NotNil(t, f.Cond)
	assert.True(t, f.Cond.Exist)
	assert.Equal(t, "cup", f.Cond.Subj.Noun)
	require.Len(t, f.Then, 1)
	assert.Equal(t, "pick_up", f.Then[0].Verb)
	assert.Equal(t, &Phrase{Pron: "it"}, f.Then[0].Obj)
	require.Len(t, f.Else, 1)
	assert.Equal(t, "say", f.Else[0].Verb)
	assert.Equal(t, "no cup", f.Else[0].Quote)
	assert.Subset(t, f.Words(), []string{"cup", "pick_up", "say", "no cup"})
}

func TestParseCommands(t *testing.T) {
	f := best(t, "Move forward 6 inches.")
	assert.Equal(t, FrameCommand, f.Kind)
	want := Clause{Verb: "move", Dir: "forward", Amt: &Amount{Num: 6, Unit: "inch"}}
	if diff := cmp.Diff(want, f.Main[0]); diff != "" {
		t.Errorf("clause mismatch (-want +got):\n%s", diff)
	}

	f = best(t, "Pick up the red block and say hello.")
	require.Len(t, f.Main, 2)
	assert.Equal(t, "pick_up", f.Main[0].Verb)
	assert.Equal(t, []Qual{{Word: "red", Cat: "color"}}, f.Main[0].Obj.Quals)
	assert.Equal(t, "hello", f.Main[1].Quote)

	f = best(t, "Wave until you see a dog.")
	assert.True(t, f.Looped)
	assert.True(t, f.Cond.Exist)
	assert.Equal(t, "dog", f.Cond.Subj.Noun)

	f = best(t, "Spin while you sing.")
	require.Len(t, f.While, 1)
	assert.Equal(t, "sing", f.While[0].Verb)

	f = best(t, "Wait 2 seconds.")
	assert.Equal(t, "pause", f.Main[0].Verb)
	assert.Equal(t, &Amount{Num: 2, Unit: "second"}, f.Main[0].Amt)
}

func TestParseIterationAndWait(t *testing.T) {
	f := best(t, "For each block, look at it.")
	assert.Equal(t, FrameEach, f.Kind)
	assert.Equal(t, &Phrase{Det: "each", Noun: "block"}, f.Over)
	assert.Equal(t, "look", f.Main[0].Verb)

	f = best(t, "Wait until the door is open.")
	assert.Equal(t, FrameWait, f.Kind)
	assert.Equal(t, "open", f.Cond.Quals[0].Word)
}

func TestParseTeaching(t *testing.T) {
	tests := []struct {
		text    string
		kind    FrameKind
		opKind  string
		trigger string
		modal   string
		body    int
	}{
		{"To greet someone, wave and say 'hello'.", FrameOp, "do", "greet", "", 2},
		{"When you see a dog, you should say 'woof'.", FrameOp, "note", "", "probably", 1},
		{"When you are tired, pause.", FrameOp, "note", "", "", 1},
		{"Before you move, look forward.", FrameOp, "ante", "move", "", 1},
		{"If you can't lift the box, say 'sorry'.", FrameOp, "fail", "lift", "", 1},
		{"Don't jump.", FrameOp, "gate", "jump", "", 0},
		{"You must never swim.", FrameOp, "gate", "swim", "must", 0},
		{"To greet someone, say 'hi' instead of waving.", FrameEdit, "", "greet", "", 1},
		{"To frobnicate, spin.", FrameOp, "do", "frobnicate", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := best(t, tt.text)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.opKind, f.OpKind)
			require.NotNil(t, f.Trigger)
			assert.Equal(t, tt.trigger, f.Trigger.Verb)
			assert.Equal(t, tt.modal, f.Modal)
			assert.Len(t, f.Main, tt.body)
		})
	}

	f := best(t, "To greet someone, say 'hi' instead of waving.")
	require.NotNil(t, f.Instead)
	assert.Equal(t, "wave", f.Instead.Verb)

	f = best(t, "Don't move when you are tired.")
	require.NotNil(t, f.Cond)
	assert.Equal(t, "tired", f.Cond.Quals[0].Word)
	assert.Equal(t, &Phrase{Pron: "you"}, f.Cond.Subj)
}

func TestTypoRepairRanksReadings(t *testing.T) {
	frames, err := NewParser(nil).Parse("pick up the blcok")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, "block", frames[0].Main[0].Obj.Noun)
	assert.InDelta(t, repairScore, frames[0].Score, 1e-9)
	assert.Equal(t, "blcok", frames[1].Main[0].Obj.Noun, "unknown word kept as a guess")
	assert.InDelta(t, loosePenalty, frames[1].Score, 1e-9)

	f := best(t, "mvoe forward")
	assert.Equal(t, "move", f.Main[0].Verb)
}

func TestParseFail(t *testing.T) {
	p := NewParser(nil)
	_, err := p.Parse("Colorless green ideas sleep furiously.")
	require.ErrorIs(t, err, ErrParseFail)
	_, err = p.Parse("  ")
	require.ErrorIs(t, err, ErrParseFail)
}

func TestTokenize(t *testing.T) {
	toks := tokenize("Don't say 'it's ok', Rex.")
	var words []string
	for _, tk := range toks {
		words = append(words, tk.w)
	}
	assert.Equal(t, []string{"do", "not", "say", "it's ok", ",", "rex", "."}, words)
	assert.True(t, toks[3].quote)
	assert.True(t, toks[5].cap)

	assert.Equal(t, []string{"The block is red.", "What color is it?"}, Sentences("The block is red. What color is it?"))
	assert.Equal(t, []string{"Say 'hi. there' now."}, Sentences("Say 'hi. there' now."))
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 1, editDistance("blcok", "block"))
	assert.Equal(t, 3, editDistance("kitten", "sitting"))
	assert.Equal(t, 3, editDistance("", "abc"))
	assert.Equal(t, 0, editDistance("cup", "cup"))
}

func TestLexiconExtends(t *testing.T) {
	dir := t.TempDir()
	lang := filepath.Join(dir, "language")
	require.NoError(t, os.MkdirAll(lang, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(lang, "extra.yaml"), []byte("nouns: [widget]\nverbs: [put away]\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VIPs.txt"), []byte("Alice Smith\n# staff\nbob\n"), 0644))

	lx := DefaultLexicon()
	n, err := lx.LoadDir(lang)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = lx.LoadNames(filepath.Join(dir, "VIPs.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p := NewParser(lx)
	frames, err := p.Parse("Put away the widget.")
	require.NoError(t, err)
	assert.Equal(t, "put_away", frames[0].Main[0].Verb)
	assert.Equal(t, "widget", frames[0].Main[0].Obj.Noun)

	frames, err = p.Parse("bob is tired")
	require.NoError(t, err)
	assert.Equal(t, &Phrase{Name: "bob"}, frames[0].Main[0].Subj)

	n, err = lx.LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
