// Package analytics は勤務セッションの日次集計と、ユーザー・チーム単位のサマリーを提供する。
package analytics

import (
	"sort"
	"time"

	"github.com/hitoshi/timecard/internal/model"
)

// msPerHour はミリ秒から時間への換算係数。
const msPerHour = 3_600_000.0

// DayBucket は1日分の集計結果。
type DayBucket struct {
	Date     time.Time // ローカル日付の0時
	Label    string    // "MM/DD"
	Hours    float64   // クローズ済みセッションの勤務時間の合計
	HasHours bool      // 勤務時間が0より大きいクローズ済みセッションが1件以上あるか
	Sessions int       // オープン中を含むセッション数
}

// Summary はセッション集合の集計結果。
type Summary struct {
	Days         []DayBucket // 日付の昇順
	TotalHours   float64
	AverageHours float64
	SessionCount int
}

// DailyHours は勤務時間のある日のラベルから時間への対応を返す。
func (s Summary) DailyHours() map[string]float64 {
	m := make(map[string]float64)
	for _, d := range s.Days {
		if d.HasHours {
			m[d.Label] += d.Hours
		}
	}
	return m
}

// DailySessions は日付ラベルからセッション数への対応を返す。
func (s Summary) DailySessions() map[string]int {
	m := make(map[string]int)
	for _, d := range s.Days {
		m[d.Label] += d.Sessions
	}
	return m
}

// Aggregate はセッションをcheckInのローカル日付ごとに集計する。
// オープン中および勤務時間0のセッションは勤務時間には含めず、セッション数にのみ数える。
// 平均は勤務時間のある日数で割り、該当日がない場合は0とする。
func Aggregate(sessions []*model.WorkSession, loc *time.Location) Summary {
	if loc == nil {
		loc = time.Local
	}

	buckets := make(map[time.Time]*DayBucket)
	for _, s := range sessions {
		local := s.CheckIn.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

		b, ok := buckets[day]
		if !ok {
			b = &DayBucket{Date: day, Label: day.Format("01/02")}
			buckets[day] = b
		}
		b.Sessions++
		if s.DurationMs != nil && *s.DurationMs > 0 {
			b.Hours += float64(*s.DurationMs) / msPerHour
			b.HasHours = true
		}
	}

	summary := Summary{Days: make([]DayBucket, 0, len(buckets)), SessionCount: len(sessions)}
	daysWithHours := 0
	for _, b := range buckets {
		summary.Days = append(summary.Days, *b)
	}
	sort.Slice(summary.Days, func(i, j int) bool {
		return summary.Days[i].Date.Before(summary.Days[j].Date)
	})

	// 合計は日付順に加算し、同じ入力で同じ値になるようにする
	for _, d := range summary.Days {
		if d.HasHours {
			summary.TotalHours += d.Hours
			daysWithHours++
		}
	}

	if daysWithHours > 0 {
		summary.AverageHours = summary.TotalHours / float64(daysWithHours)
	}
	return summary
}
