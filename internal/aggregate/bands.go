package aggregate

// Band bounds are upper-inclusive: an age of exactly 25 falls in "<25".

// AgeBand buckets an age into <25, 25-35, 35-45, 45-55, >55.
func AgeBand(age int) string {
	switch {
	case age <= 25:
		return "<25"
	case age <= 35:
		return "25-35"
	case age <= 45:
		return "35-45"
	case age <= 55:
		return "45-55"
	default:
		return ">55"
	}
}

// TenureBand buckets years of service.
func TenureBand(years float64) string {
	switch {
	case years <= 1:
		return "<1"
	case years <= 3:
		return "1-3"
	case years <= 5:
		return "3-5"
	case years <= 10:
		return "5-10"
	default:
		return ">10"
	}
}

// SalaryBand buckets a monthly salary.
func SalaryBand(salary float64) string {
	switch {
	case salary <= 5000:
		return "<5000"
	case salary <= 8000:
		return "5000-8000"
	case salary <= 12000:
		return "8000-12000"
	case salary <= 20000:
		return "12000-20000"
	default:
		return ">20000"
	}
}
