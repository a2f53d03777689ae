package domain

type RoomName string

type Room struct {
	Name RoomName
}
