package model

import "time"

// WorkSession はチェックインからチェックアウトまでの1回の勤務区間を表す。
// CheckOutがnilの間はオープン状態。
type WorkSession struct {
	ID         string
	UserID     string
	CheckIn    time.Time
	CheckOut   *time.Time
	DurationMs *int64 // チェックアウト時に CheckOut - CheckIn（ミリ秒）で確定する
	CreatedAt  time.Time
}

// IsOpen はセッションがまだチェックアウトされていないかどうかを返す。
func (s *WorkSession) IsOpen() bool {
	return s.CheckOut == nil
}

// Close はセッションを指定時刻でクローズし、勤務時間を確定する。
// 時刻はミリ秒精度に丸める。
func (s *WorkSession) Close(at time.Time) {
	out := at.Truncate(time.Millisecond)
	d := out.Sub(s.CheckIn).Milliseconds()
	s.CheckOut = &out
	s.DurationMs = &d
}

// TimeRange はcheckInに対する閉区間の検索条件。
// Start/Endのいずれもnilの場合はその側を無制限とする。
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains はtが範囲内（両端を含む）かどうかを返す。
func (r TimeRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Valid は開始が終了より後になっていないかどうかを返す。
func (r TimeRange) Valid() bool {
	return r.Start == nil || r.End == nil || !r.Start.After(*r.End)
}
