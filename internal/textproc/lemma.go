package textproc

import "strings"

// irregularLemmas maps inflected forms that suffix rules cannot recover.
var irregularLemmas = map[string]string{
	"am": "be", "is": "be", "are": "be", "was": "be", "were": "be", "been": "be", "being": "be",
	"has": "have", "had": "have", "having": "have",
	"does": "do", "did": "do", "done": "do", "doing": "do",
	"went": "go", "gone": "go", "goes": "go",
	"children": "child", "men": "man", "women": "woman", "people": "person",
	"mice": "mouse", "feet": "foot", "teeth": "tooth", "geese": "goose",
	"better": "good", "best": "good", "worse": "bad", "worst": "bad",
	"ran": "run", "saw": "see", "seen": "see", "took": "take", "taken": "take",
	"made": "make", "making": "make", "said": "say", "got": "get", "gotten": "get",
	"gave": "give", "given": "give", "giving": "give", "knew": "know", "known": "know",
	"thought": "think", "found": "find", "told": "tell", "became": "become",
	"left": "leave", "felt": "feel", "brought": "bring", "began": "begin", "begun": "begin",
	"kept": "keep", "held": "hold", "wrote": "write", "written": "write", "writing": "write",
	"stood": "stand", "heard": "hear", "meant": "mean", "met": "meet", "paid": "pay",
	"spoke": "speak", "spoken": "speak", "led": "lead", "grew": "grow", "grown": "grow",
	"lost": "lose", "fell": "fall", "fallen": "fall", "sent": "send", "built": "build",
	"understood": "understand", "drew": "draw", "drawn": "draw", "broke": "break",
	"broken": "break", "spent": "spend", "chose": "choose", "chosen": "choose",
	"ate": "eat", "eaten": "eat", "drove": "drive", "driven": "drive", "wore": "wear",
	"worn": "wear", "bought": "buy", "caught": "catch", "taught": "teach", "sold": "sell",
	"fought": "fight", "won": "win", "using": "use", "coming": "come", "came": "come",
	"taking": "take", "living": "live", "moving": "move", "used": "use",
	"data": "datum", "analyses": "analysis", "indices": "index",
}

// noStrip lists words ending in "s" that are already in dictionary form.
var noStrip = map[string]bool{
	"this": true, "his": true, "its": true, "us": true, "was": true, "has": true,
	"news": true, "series": true, "species": true, "always": true, "perhaps": true,
	"whereas": true, "thus": true, "yes": true, "less": true, "unless": true,
}

// Lemma returns a dictionary form for an English word using an irregular-form
// table followed by inflectional suffix rules. It is a lightweight rule-based
// lemmatizer; unknown words fall through unchanged.
func Lemma(word string) string {
	w := strings.ToLower(word)
	if lemma, ok := irregularLemmas[w]; ok {
		return lemma
	}
	if noStrip[w] {
		return w
	}

	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case len(w) > 4 && (strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes") ||
		strings.HasSuffix(w, "xes") || strings.HasSuffix(w, "zes")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		return undouble(w[:len(w)-3])
	case len(w) > 4 && strings.HasSuffix(w, "ied"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && strings.HasSuffix(w, "ed"):
		if silentE(w[:len(w)-1]) {
			return w[:len(w)-1]
		}
		return undouble(w[:len(w)-2])
	}
	return w
}

// undouble collapses a doubled final consonant left behind by suffix removal
// (running -> run), keeping the doubles English words end in (fall, pass, buzz).
func undouble(stem string) string {
	n := len(stem)
	if n < 3 || stem[n-1] != stem[n-2] || isVowel(stem[n-1]) {
		return stem
	}
	switch stem[n-1] {
	case 'l', 's', 'z', 'f':
		return stem
	}
	return stem[:n-1]
}

// silentE reports whether w (the word minus its final "d") looks like a
// vowel-consonant-e stem such as "use", "base" or "create".
func silentE(w string) bool {
	n := len(w)
	if n < 3 || w[n-1] != 'e' {
		return false
	}
	if !isVowel(w[n-3]) {
		return false
	}
	switch w[n-2] {
	case 'c', 'g', 's', 'v', 'z', 't', 'k', 'm', 'l', 'r':
		return true
	}
	return false
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
