package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize ёмкость очереди рассылки; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// envelope сериализованное сообщение и его тип
type envelope struct {
	kind MessageType
	data []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Реализует bot.WebSocketHub: движок и сервис уведомлений шлют сюда события.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast сообщений всем активным клиентам без блокировки отправителя
// - Новый клиент сразу получает последние statusUpdate и positionsUpdate
// - Отключение медленных клиентов
//
// Использование:
// 1. Создать hub: hub := NewHub(cfg.Server.AllowedOrigins)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastStatus(...)
// 4. Остановить: hub.Stop()
type Hub struct {
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan envelope

	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// последние снимки по типу - для только что подключившихся клиентов
	last map[MessageType][]byte

	dropped atomic.Int64
	origins *OriginChecker
	log     *utils.Logger

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		last:       make(map[MessageType][]byte),
		origins:    NewOriginChecker(allowedOrigins),
		log:        utils.L().WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Копируем список клиентов → отправляем без Lock → удаляем медленных под Write Lock
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			for _, kind := range []MessageType{MessageTypeStatusUpdate, MessageTypePositionsUpdate} {
				if data, ok := h.last[kind]; ok {
					select {
					case client.send <- data:
					default:
					}
				}
			}
			h.log.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case msg := <-h.broadcast:
			if msg.kind != MessageTypeNotification {
				h.last[msg.kind] = msg.data
			}

			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- msg.data:
				default:
					// клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

// Stop останавливает Run и закрывает все соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь.
// Никогда не блокирует: при полной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(kind MessageType, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("marshal broadcast message", utils.String("type", string(kind)), utils.Err(err))
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := envelope{kind: kind, data: append([]byte(nil), data...)}

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastStatus отправляет снимок движка
func (h *Hub) BroadcastStatus(status *models.EngineStatus) {
	h.Broadcast(MessageTypeStatusUpdate, NewStatusMessage(status))
}

// BroadcastPositions отправляет журнал позиций
func (h *Hub) BroadcastPositions(records []models.PositionRecord) {
	h.Broadcast(MessageTypePositionsUpdate, NewPositionsMessage(records))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(MessageTypeNotification, NewNotificationMessage(n))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages сколько сообщений отброшено из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
