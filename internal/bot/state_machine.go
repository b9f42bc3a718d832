package bot

// AgentState состояние автомата открытия пары
type AgentState string

const (
	StateInit          AgentState = "INIT"
	StateLeg1Submitted AgentState = "LEG1_SUBMITTED"
	StateLeg1Confirmed AgentState = "LEG1_CONFIRMED"
	StateLeg1Failed    AgentState = "LEG1_FAILED"
	StateLeg2Submitted AgentState = "LEG2_SUBMITTED"
	StateLeg2Confirmed AgentState = "LEG2_CONFIRMED" // пара LIVE
	StateLeg2Failed    AgentState = "LEG2_FAILED"
	StateUnwinding     AgentState = "UNWINDING"
	StateUnwound       AgentState = "UNWOUND"
	StateAbort         AgentState = "ABORT" // откат не исполнился, процесс останавливается
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[AgentState][]AgentState{
	StateInit:          {StateLeg1Submitted, StateLeg1Failed}, // Failed при отказе размещения
	StateLeg1Submitted: {StateLeg1Confirmed, StateLeg1Failed},
	StateLeg1Confirmed: {StateLeg2Submitted, StateLeg2Failed},
	StateLeg2Submitted: {StateLeg2Confirmed, StateLeg2Failed},
	StateLeg2Failed:    {StateUnwinding},
	StateUnwinding:     {StateUnwound, StateAbort},
	// терминальные
	StateLeg1Failed:    {},
	StateLeg2Confirmed: {},
	StateUnwound:       {},
	StateAbort:         {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to AgentState) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal true если из состояния нет переходов
func IsTerminal(s AgentState) bool {
	allowed, ok := ValidTransitions[s]
	return ok && len(allowed) == 0
}

// StateInfo возвращает описание состояния для логов и API
func StateInfo(s AgentState) string {
	switch s {
	case StateInit:
		return "Проверка условий входа"
	case StateLeg1Submitted:
		return "Первая нога отправлена, ожидание исполнения"
	case StateLeg1Confirmed:
		return "Первая нога исполнена"
	case StateLeg1Failed:
		return "Первая нога не исполнилась, вход отменён"
	case StateLeg2Submitted:
		return "Вторая нога отправлена, ожидание исполнения"
	case StateLeg2Confirmed:
		return "Обе ноги исполнены, пара открыта"
	case StateLeg2Failed:
		return "Вторая нога не исполнилась"
	case StateUnwinding:
		return "Откат первой ноги..."
	case StateUnwound:
		return "Первая нога закрыта, позиции нет"
	case StateAbort:
		return "Откат не исполнился! Требуется вмешательство"
	default:
		return "Неизвестное состояние"
	}
}
