package mentions

import (
	"unicode"
	"unicode/utf8"
)

// MaxQueryLen — максимальная длина запроса в рунах между '@' и курсором.
// Более длинный фрагмент упоминанием не считается.
const MaxQueryLen = 50

// Query — активный @-запрос под курсором.
// Start/End — байтовые границы спана в исходном тексте: Start указывает на '@',
// End — позиция курсора. По ним вызывающая сторона вклеивает выбранный токен.
type Query struct {
	Text  string
	Start int
	End   int
}

// DetectActiveMention ищет активное упоминание: ближайший '@' слева от курсора.
// Спан между '@' и курсором является запросом тогда и только тогда, когда он
// не содержит пробельных символов и не длиннее MaxQueryLen рун.
//
// Сканирование идёт от курсора назад и обрывается на пробеле или по лимиту
// длины — стоимость O(k) от расстояния до '@', а не от длины текста, чтобы
// вызов на каждое нажатие клавиши оставался дешёвым.
func DetectActiveMention(text string, cursorPos int) (Query, bool) {
	if cursorPos < 0 || cursorPos > len(text) {
		return Query{}, false
	}

	pos := cursorPos
	runes := 0

	for pos > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:pos])
		if r == utf8.RuneError && size == 1 {
			return Query{}, false
		}

		if r == '@' {
			return Query{
				Text:  text[pos:cursorPos],
				Start: pos - size,
				End:   cursorPos,
			}, true
		}

		if unicode.IsSpace(r) {
			return Query{}, false
		}

		runes++
		if runes > MaxQueryLen {
			return Query{}, false
		}

		pos -= size
	}

	return Query{}, false
}
