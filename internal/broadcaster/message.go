package broadcaster

import "time"

// Message wraps one tick's payload for delivery. Seq grows by one for every
// successful fetch.
type Message struct {
	Id         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	CreateTime time.Time `json:"createTime"`
	Payload    string    `json:"payload"`
}
