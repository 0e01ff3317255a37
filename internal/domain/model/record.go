// Пакет model — доменные типы Cold Storage Service.
package model

import "time"

// ContentRef — ссылка на содержимое во внешнем хранилище.
// Неизменяема после назначения, сравнивается по значению.
type ContentRef struct {
	// BackendID — идентификатор backend-а, которому принадлежит содержимое
	BackendID string
	// Key — непрозрачный ключ содержимого в backend-е
	Key string
}

// Record — запись, владеющая жизненным циклом содержимого.
// Хранится в таблице records (или в badger при CS_STORE_DRIVER=badger).
type Record struct {
	// ID — UUID записи
	ID string
	// Title — человекочитаемое название
	Title string
	// PrimaryContent — содержимое в основном (hot) хранилище
	PrimaryContent *ContentRef
	// ColdContent — содержимое в холодном хранилище
	ColdContent *ContentRef
	// BeingRetrieved — true, пока запрос на восстановление не завершён
	BeingRetrieved bool
	// HasColdStorageMarker — для записи включена семантика холодного хранения
	HasColdStorageMarker bool
	// RetrievalRequestedAt — время последнего запроса на восстановление
	RetrievalRequestedAt *time.Time
	// AvailableUntil — до какого момента восстановленное содержимое доступно
	AvailableUntil *time.Time
	// Version — версия записи для оптимистичной блокировки
	Version int64
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PrimaryContent = cloneRef(r.PrimaryContent)
	c.ColdContent = cloneRef(r.ColdContent)
	c.RetrievalRequestedAt = cloneTime(r.RetrievalRequestedAt)
	c.AvailableUntil = cloneTime(r.AvailableUntil)
	return &c
}

func cloneRef(ref *ContentRef) *ContentRef {
	if ref == nil {
		return nil
	}
	c := *ref
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// BackendStatus — состояние содержимого в backend-е на момент опроса.
// Не сохраняется, сохраняется только его эффект.
type BackendStatus struct {
	// Downloadable — содержимое доступно для скачивания
	Downloadable bool
	// DownloadableUntil — до какого момента содержимое останется доступным
	DownloadableUntil *time.Time
	// RestoreInProgress — backend выполняет восстановление
	RestoreInProgress bool
}

// ReconciliationResult — итог одного прохода сверки.
type ReconciliationResult struct {
	// TotalBeingRetrieved — записи, оставшиеся в восстановлении после прохода
	TotalBeingRetrieved int
	// TotalAvailable — записи, ставшие доступными в этом проходе
	TotalAvailable int
	// Failed — записи, опрос или обновление которых завершились ошибкой
	Failed int
	// StartedAt — время начала прохода
	StartedAt time.Time
	// CompletedAt — время завершения прохода
	CompletedAt time.Time
}

// SweepResult — итог прохода защитной проверки холодных записей.
type SweepResult struct {
	// Checked — сколько холодных записей опрошено
	Checked int
	// Recovered — сколько записей снова помечено как восстанавливаемые
	Recovered int
	// Failed — сколько опросов завершилось ошибкой
	Failed int
}
